package extension

import (
	"log/slog"

	"github.com/spf13/viper"

	"github.com/xraph/datastore"
	"github.com/xraph/datastore/plugin"
	"github.com/xraph/datastore/store"
)

// ExtOption configures the datastore Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithConfig sets the extension configuration.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
		e.configSet = true
	}
}

// WithViper loads the extension configuration from v during Register.
// Options applied by WithConfig take precedence.
func WithViper(v *viper.Viper) ExtOption {
	return func(e *Extension) {
		e.viper = v
	}
}

// WithDatastoreOptions adds datastore-level options.
func WithDatastoreOptions(opts ...datastore.Option) ExtOption {
	return func(e *Extension) {
		e.datastoreOpts = append(e.datastoreOpts, opts...)
	}
}

// WithEntity registers an entity with the datastore when it is built.
func WithEntity(name string, sample any) ExtOption {
	return func(e *Extension) {
		e.entities = append(e.entities, entitySample{name: name, sample: sample})
	}
}

// WithPlugin registers a lifecycle hook plugin.
func WithPlugin(x plugin.Plugin) ExtOption {
	return func(e *Extension) {
		e.plugins = append(e.plugins, x)
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.disableMigrate = true
	}
}
