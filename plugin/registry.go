package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/datastore/id"
	"github.com/xraph/datastore/pending"
)

// Named entry types pair a hook with the plugin name for logging.

type sessionOpenedEntry struct {
	name string
	hook SessionOpened
}
type sessionClosedEntry struct {
	name string
	hook SessionClosed
}
type beforeFlushEntry struct {
	name string
	hook BeforeFlush
}
type afterFlushEntry struct {
	name string
	hook AfterFlush
}
type flushFailedEntry struct {
	name string
	hook FlushFailed
}
type entityPersistedEntry struct {
	name string
	hook EntityPersisted
}
type entityDeletedEntry struct {
	name string
	hook EntityDeleted
}
type transactionCompletedEntry struct {
	name string
	hook TransactionCompleted
}
type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered plugins and dispatches lifecycle events.
// It type-caches plugins at registration time so emit calls iterate
// only over plugins implementing the relevant hook.
type Registry struct {
	plugins []Plugin
	logger  *slog.Logger

	sessionOpened        []sessionOpenedEntry
	sessionClosed        []sessionClosedEntry
	beforeFlush          []beforeFlushEntry
	afterFlush           []afterFlushEntry
	flushFailed          []flushFailedEntry
	entityPersisted      []entityPersistedEntry
	entityDeleted        []entityDeletedEntry
	transactionCompleted []transactionCompletedEntry
	shutdown             []shutdownEntry
}

// NewRegistry creates a plugin registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a plugin and type-asserts it into all applicable
// hook caches. Plugins are notified in registration order.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
	name := p.Name()

	if h, ok := p.(SessionOpened); ok {
		r.sessionOpened = append(r.sessionOpened, sessionOpenedEntry{name, h})
	}
	if h, ok := p.(SessionClosed); ok {
		r.sessionClosed = append(r.sessionClosed, sessionClosedEntry{name, h})
	}
	if h, ok := p.(BeforeFlush); ok {
		r.beforeFlush = append(r.beforeFlush, beforeFlushEntry{name, h})
	}
	if h, ok := p.(AfterFlush); ok {
		r.afterFlush = append(r.afterFlush, afterFlushEntry{name, h})
	}
	if h, ok := p.(FlushFailed); ok {
		r.flushFailed = append(r.flushFailed, flushFailedEntry{name, h})
	}
	if h, ok := p.(EntityPersisted); ok {
		r.entityPersisted = append(r.entityPersisted, entityPersistedEntry{name, h})
	}
	if h, ok := p.(EntityDeleted); ok {
		r.entityDeleted = append(r.entityDeleted, entityDeletedEntry{name, h})
	}
	if h, ok := p.(TransactionCompleted); ok {
		r.transactionCompleted = append(r.transactionCompleted, transactionCompletedEntry{name, h})
	}
	if h, ok := p.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Plugins returns all registered plugins.
func (r *Registry) Plugins() []Plugin { return r.plugins }

// ──────────────────────────────────────────────────
// Session event emitters
// ──────────────────────────────────────────────────

// EmitSessionOpened notifies all plugins that implement SessionOpened.
func (r *Registry) EmitSessionOpened(ctx context.Context, sessionID id.SessionID, stateless bool) {
	for _, e := range r.sessionOpened {
		if err := e.hook.OnSessionOpened(ctx, sessionID, stateless); err != nil {
			r.logHookError("OnSessionOpened", e.name, err)
		}
	}
}

// EmitSessionClosed notifies all plugins that implement SessionClosed.
func (r *Registry) EmitSessionClosed(ctx context.Context, sessionID id.SessionID) {
	for _, e := range r.sessionClosed {
		if err := e.hook.OnSessionClosed(ctx, sessionID); err != nil {
			r.logHookError("OnSessionClosed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Flush event emitters
// ──────────────────────────────────────────────────

// EmitBeforeFlush notifies all plugins that implement BeforeFlush.
func (r *Registry) EmitBeforeFlush(ctx context.Context, sessionID id.SessionID, queued int) {
	for _, e := range r.beforeFlush {
		if err := e.hook.OnBeforeFlush(ctx, sessionID, queued); err != nil {
			r.logHookError("OnBeforeFlush", e.name, err)
		}
	}
}

// EmitAfterFlush notifies all plugins that implement AfterFlush.
func (r *Registry) EmitAfterFlush(ctx context.Context, sessionID id.SessionID, stats pending.Stats, elapsed time.Duration) {
	for _, e := range r.afterFlush {
		if err := e.hook.OnAfterFlush(ctx, sessionID, stats, elapsed); err != nil {
			r.logHookError("OnAfterFlush", e.name, err)
		}
	}
}

// EmitFlushFailed notifies all plugins that implement FlushFailed.
func (r *Registry) EmitFlushFailed(ctx context.Context, sessionID id.SessionID, flushErr error) {
	for _, e := range r.flushFailed {
		if err := e.hook.OnFlushFailed(ctx, sessionID, flushErr); err != nil {
			r.logHookError("OnFlushFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Entity event emitters
// ──────────────────────────────────────────────────

// EmitEntityPersisted notifies all plugins that implement EntityPersisted.
func (r *Registry) EmitEntityPersisted(ctx context.Context, entity string, key any) {
	for _, e := range r.entityPersisted {
		if err := e.hook.OnEntityPersisted(ctx, entity, key); err != nil {
			r.logHookError("OnEntityPersisted", e.name, err)
		}
	}
}

// EmitEntityDeleted notifies all plugins that implement EntityDeleted.
func (r *Registry) EmitEntityDeleted(ctx context.Context, entity string, key any) {
	for _, e := range r.entityDeleted {
		if err := e.hook.OnEntityDeleted(ctx, entity, key); err != nil {
			r.logHookError("OnEntityDeleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Transaction event emitters
// ──────────────────────────────────────────────────

// EmitTransactionCompleted notifies all plugins that implement TransactionCompleted.
func (r *Registry) EmitTransactionCompleted(ctx context.Context, txID id.TransactionID, committed bool) {
	for _, e := range r.transactionCompleted {
		if err := e.hook.OnTransactionCompleted(ctx, txID, committed); err != nil {
			r.logHookError("OnTransactionCompleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Shutdown emitter
// ──────────────────────────────────────────────────

// EmitShutdown notifies all plugins that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, pluginName string, err error) {
	r.logger.Warn("plugin hook error",
		slog.String("hook", hook),
		slog.String("plugin", pluginName),
		slog.String("error", err.Error()),
	)
}
