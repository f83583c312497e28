// Package datastore provides a session-level persistence engine for Go.
//
// A Datastore owns a backend store and the mapping metadata of every
// persistent type. Work happens in a Session: instances loaded or saved
// through it are held in a first-level cache, so one identifier maps to one
// instance, and writes are queued as pending operations until Flush runs
// them as inserts, then updates, then deletes.
//
//	ds, err := datastore.New(
//	    datastore.WithStore(memory.New()),
//	)
//	ds.Register("Author", &Author{})
//
//	err = ds.WithSession(ctx, func(ctx context.Context, s *datastore.Session) error {
//	    if _, err := s.Persist(ctx, &Author{Name: "Stephen King"}); err != nil {
//	        return err
//	    }
//	    return s.Flush(ctx)
//	})
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
	"github.com/xraph/datastore/plugin"
	"github.com/xraph/datastore/store"
)

// PersisterFactory builds the persister a session uses for one entity.
type PersisterFactory func(e *mapping.PersistentEntity, s *Session) persister.Persister

// Datastore opens sessions over a store and shares mapping metadata, the
// second-level cache and plugins between them.
type Datastore struct {
	store            store.Store
	mapping          *mapping.Context
	cache            persister.CacheAdapter
	plugins          *plugin.Registry
	logger           *slog.Logger
	config           Config
	registry         *Registry
	persisterFactory PersisterFactory

	mu     sync.Mutex
	open   map[string]*Session
	closed bool
}

// New creates a Datastore with the given options.
func New(opts ...Option) (*Datastore, error) {
	d := &Datastore{
		logger: slog.Default(),
		config: DefaultConfig(),
		open:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.store == nil {
		return nil, ErrStoreRequired
	}
	if d.mapping == nil {
		d.mapping = mapping.NewContext()
	}
	if d.registry == nil {
		d.registry = DefaultRegistry()
	}
	if d.config.QueueCapacity <= 0 {
		d.config.QueueCapacity = DefaultConfig().QueueCapacity
	}
	return d, nil
}

// Store returns the backend store.
func (d *Datastore) Store() store.Store { return d.store }

// MappingContext returns the mapping metadata shared by all sessions.
func (d *Datastore) MappingContext() *mapping.Context { return d.mapping }

// Plugins returns the plugin registry (may be nil).
func (d *Datastore) Plugins() *plugin.Registry { return d.plugins }

// Config returns the datastore configuration.
func (d *Datastore) Config() Config { return d.config }

// Cache returns the second-level cache, or nil.
func (d *Datastore) Cache() persister.CacheAdapter { return d.cache }

// Registry returns the session registry used for context binding.
func (d *Datastore) Registry() *Registry { return d.registry }

// Register maps the type of sample as entity name.
func (d *Datastore) Register(name string, sample any, opts ...mapping.EntityOption) (*mapping.PersistentEntity, error) {
	return d.mapping.Register(name, sample, opts...)
}

// Start runs store migrations.
func (d *Datastore) Start(ctx context.Context) error {
	if err := d.store.Migrate(ctx); err != nil {
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

// Stop closes the datastore.
func (d *Datastore) Stop(ctx context.Context) error { return d.Close(ctx) }

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

// Connect opens a new session.
func (d *Datastore) Connect(ctx context.Context) (*Session, error) {
	return d.connect(ctx, false)
}

// ConnectStateless opens a session that bypasses the first-level cache.
func (d *Datastore) ConnectStateless(ctx context.Context) (*Session, error) {
	return d.connect(ctx, true)
}

func (d *Datastore) connect(ctx context.Context, stateless bool) (*Session, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s := newSession(d, stateless)
	d.open[s.id.String()] = s
	d.mu.Unlock()

	d.logger.Debug("datastore: session opened",
		slog.String("session", s.id.String()),
		slog.Bool("stateless", stateless),
	)
	if d.plugins != nil {
		d.plugins.EmitSessionOpened(ctx, s.id, stateless)
	}
	return s, nil
}

func (d *Datastore) sessionClosed(ctx context.Context, s *Session) {
	d.registry.unbindSession(s)
	d.mu.Lock()
	delete(d.open, s.id.String())
	d.mu.Unlock()

	d.logger.Debug("datastore: session closed", slog.String("session", s.id.String()))
	if d.plugins != nil {
		d.plugins.EmitSessionClosed(ctx, s.id)
	}
}

// OpenSessions returns the number of connected sessions.
func (d *Datastore) OpenSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}

type bindingKey struct {
	owner *Datastore
	scope any
}

// Bind binds s to the scope carried by ctx, or to the session's own ID when
// ctx has none, and returns a context carrying that scope.
func (d *Datastore) Bind(ctx context.Context, s *Session) (context.Context, error) {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		scope = s.id.String()
		ctx = WithScope(ctx, scope)
	}
	if err := checkKey(scope); err != nil {
		return ctx, err
	}
	if err := d.registry.Bind(bindingKey{owner: d, scope: scope}, s); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// Unbind removes the session bound to the scope carried by ctx.
func (d *Datastore) Unbind(ctx context.Context) *Session {
	scope, ok := ScopeFromContext(ctx)
	if !ok || checkKey(scope) != nil {
		return nil
	}
	return d.registry.Unbind(bindingKey{owner: d, scope: scope})
}

// CurrentSession returns the session bound to the scope carried by ctx.
func (d *Datastore) CurrentSession(ctx context.Context) (*Session, error) {
	scope, ok := ScopeFromContext(ctx)
	if !ok || checkKey(scope) != nil {
		return nil, ErrConnectionNotFound
	}
	s, ok := d.registry.Lookup(bindingKey{owner: d, scope: scope})
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return s, nil
}

// HasCurrentSession reports whether a session is bound to ctx.
func (d *Datastore) HasCurrentSession(ctx context.Context) bool {
	_, err := d.CurrentSession(ctx)
	return err == nil
}

// WithSession runs fn with the session bound to ctx. When none is bound, a
// new session is connected and bound for the duration of fn, then
// disconnected.
func (d *Datastore) WithSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	if s, err := d.CurrentSession(ctx); err == nil {
		return fn(ctx, s)
	}
	s, err := d.Connect(ctx)
	if err != nil {
		return err
	}
	bctx, err := d.Bind(ctx, s)
	if err != nil {
		return errors.Join(err, s.Disconnect(ctx))
	}
	defer func() { _ = s.Disconnect(ctx) }()
	return fn(bctx, s)
}

// WithTransaction runs fn inside a transaction on the session bound to ctx,
// or on a new one. The transaction commits when fn returns nil and rolls
// back otherwise.
func (d *Datastore) WithTransaction(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	return d.WithSession(ctx, func(ctx context.Context, s *Session) error {
		tx, err := s.BeginTransaction(ctx)
		if err != nil {
			return err
		}
		if err := fn(ctx, s); err != nil {
			return errors.Join(err, tx.Rollback(ctx))
		}
		return tx.Commit(ctx)
	})
}

// Close disconnects every open session, notifies plugins and closes the
// store.
func (d *Datastore) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	open := make([]*Session, 0, len(d.open))
	for _, s := range d.open {
		open = append(open, s)
	}
	d.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if d.plugins != nil {
		d.plugins.EmitShutdown(ctx)
	}
	if err := d.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Persisters
// ──────────────────────────────────────────────────

func (d *Datastore) createPersister(e *mapping.PersistentEntity, s *Session) persister.Persister {
	if d.persisterFactory != nil {
		return d.persisterFactory(e, s)
	}
	opts := []persister.Option{persister.WithLogger(d.logger)}
	if d.cache != nil {
		opts = append(opts, persister.WithCache(d.cache))
	}
	if d.plugins != nil {
		opts = append(opts, persister.WithListener(pluginListener{d.plugins}))
	}
	return persister.NewEntryPersister(e, s, d.store, opts...)
}

// pluginListener forwards completed writes to plugins.
type pluginListener struct {
	plugins *plugin.Registry
}

func (l pluginListener) EntityPersisted(ctx context.Context, e *mapping.PersistentEntity, key, _ any) {
	l.plugins.EmitEntityPersisted(ctx, e.Name, key)
}

func (l pluginListener) EntityDeleted(ctx context.Context, e *mapping.PersistentEntity, key any) {
	l.plugins.EmitEntityDeleted(ctx, e.Name, key)
}
