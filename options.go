package datastore

import (
	"log/slog"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
	"github.com/xraph/datastore/plugin"
	"github.com/xraph/datastore/store"
)

// Option is a functional option for the Datastore.
type Option func(*Datastore)

// WithStore sets the backend store.
func WithStore(s store.Store) Option { return func(d *Datastore) { d.store = s } }

// WithMappingContext sets the mapping context. A fresh one is created when
// omitted.
func WithMappingContext(mc *mapping.Context) Option {
	return func(d *Datastore) { d.mapping = mc }
}

// WithCache sets the second-level entry cache shared by all sessions.
func WithCache(c persister.CacheAdapter) Option { return func(d *Datastore) { d.cache = c } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(d *Datastore) { d.logger = l } }

// WithConfig sets the datastore configuration.
func WithConfig(c Config) Option { return func(d *Datastore) { d.config = c } }

// WithRegistry sets the session registry used for context binding. The
// process-wide registry is used when omitted.
func WithRegistry(r *Registry) Option { return func(d *Datastore) { d.registry = r } }

// WithPlugin registers a plugin with the datastore.
func WithPlugin(x plugin.Plugin) Option {
	return func(d *Datastore) {
		if d.plugins == nil {
			d.plugins = plugin.NewRegistry(d.logger)
		}
		d.plugins.Register(x)
	}
}

// WithPersisterFactory replaces the default entry persister.
func WithPersisterFactory(f PersisterFactory) Option {
	return func(d *Datastore) { d.persisterFactory = f }
}
