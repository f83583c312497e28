// Package extension provides a Forge extension entry point for the
// datastore.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/datastore"
	"github.com/xraph/datastore/cache"
	"github.com/xraph/datastore/plugin"
	"github.com/xraph/datastore/plugin/metrics"
	"github.com/xraph/datastore/store"
	"github.com/xraph/datastore/store/memory"
	"github.com/xraph/datastore/store/s3"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "datastore"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Session-scoped persistence with identity map and write-behind flushing"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// ErrNotInitialized is returned by lifecycle methods called before Register.
var ErrNotInitialized = errors.New("datastore: extension not initialized")

type entitySample struct {
	name   string
	sample any
}

// Extension adapts the datastore as a Forge extension.
type Extension struct {
	config         Config
	configSet      bool
	disableMigrate bool
	viper          *viper.Viper
	ds             *datastore.Datastore
	store          store.Store
	logger         *slog.Logger
	datastoreOpts  []datastore.Option
	entities       []entitySample
	plugins        []plugin.Plugin
}

// New creates a datastore Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the extension name.
func (e *Extension) Name() string { return ExtensionName }

// Description returns the extension description.
func (e *Extension) Description() string { return ExtensionDescription }

// Version returns the extension version.
func (e *Extension) Version() string { return ExtensionVersion }

// Dependencies returns the list of extension names this extension depends on.
func (e *Extension) Dependencies() []string { return []string{} }

// Datastore returns the underlying datastore.
func (e *Extension) Datastore() *datastore.Datastore { return e.ds }

// Config returns the effective configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It builds the datastore and
// registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	// Try to resolve the store from the DI container.
	var injected store.Store
	if s, err := forge.Inject[store.Store](fapp.Container()); err == nil {
		injected = s
	}
	if err := e.init(context.Background(), injected); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*datastore.Datastore, error) {
		return e.ds, nil
	}); err != nil {
		return fmt.Errorf("datastore: register datastore in container: %w", err)
	}
	return nil
}

// init builds the datastore. A store set by option wins over one injected
// from the container, which wins over one built from Config.Driver.
func (e *Extension) init(ctx context.Context, injected store.Store) error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	if !e.configSet {
		cfg, found, err := LoadConfig(e.viper)
		if err != nil {
			return err
		}
		if !found && e.config.RequireConfig {
			return fmt.Errorf("datastore: no configuration found under %v", configKeys)
		}
		if found {
			e.config = cfg
		}
	}
	if e.disableMigrate {
		e.config.DisableMigrate = true
	}

	s := e.store
	if s == nil {
		s = injected
	}
	if s == nil {
		built, err := e.buildStore(ctx)
		if err != nil {
			return err
		}
		s = built
	}

	opts := make([]datastore.Option, 0, len(e.datastoreOpts)+len(e.plugins)+5)
	opts = append(opts,
		datastore.WithLogger(logger),
		datastore.WithStore(s),
		datastore.WithConfig(e.config.datastoreConfig()),
	)
	if e.config.Cache.Enabled {
		opts = append(opts, datastore.WithCache(cache.NewMemory(
			cache.WithTTL(e.config.Cache.TTL),
			cache.WithMaxSize(e.config.Cache.MaxSize),
		)))
	}
	if e.config.Metrics {
		mp, err := metrics.New()
		if err != nil {
			return fmt.Errorf("datastore: register metrics: %w", err)
		}
		opts = append(opts, datastore.WithPlugin(mp))
	}

	// Append user-provided options (may override the above).
	opts = append(opts, e.datastoreOpts...)

	for _, x := range e.plugins {
		opts = append(opts, datastore.WithPlugin(x))
	}

	ds, err := datastore.New(opts...)
	if err != nil {
		return fmt.Errorf("datastore: create datastore: %w", err)
	}
	for _, ent := range e.entities {
		if _, err := ds.Register(ent.name, ent.sample); err != nil {
			return fmt.Errorf("datastore: register entity %s: %w", ent.name, err)
		}
	}
	e.ds = ds
	return nil
}

func (e *Extension) buildStore(ctx context.Context) (store.Store, error) {
	switch e.config.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverS3:
		s, err := s3.New(ctx, e.config.S3)
		if err != nil {
			return nil, fmt.Errorf("datastore: build s3 store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("datastore: unknown driver %q", e.config.Driver)
	}
}

// Start runs migrations unless disabled.
func (e *Extension) Start(ctx context.Context) error {
	if e.ds == nil {
		return ErrNotInitialized
	}
	if e.config.DisableMigrate {
		return nil
	}
	return e.ds.Start(ctx)
}

// Stop disconnects open sessions and closes the store.
func (e *Extension) Stop(ctx context.Context) error {
	if e.ds == nil {
		return nil
	}
	return e.ds.Stop(ctx)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.ds == nil {
		return ErrNotInitialized
	}
	return e.ds.Store().Ping(ctx)
}
