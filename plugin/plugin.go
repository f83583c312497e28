// Package plugin defines the plugin system for the datastore.
// Plugins are notified of session lifecycle events (session opened, flush
// completed, entity persisted, etc.) and can react with logging, metrics,
// auditing or tracing.
//
// Each lifecycle hook is a separate interface so plugins opt in only
// to the events they care about.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/datastore/id"
	"github.com/xraph/datastore/pending"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	// Name returns a unique human-readable name for the plugin.
	Name() string
}

// ──────────────────────────────────────────────────
// Session lifecycle hooks
// ──────────────────────────────────────────────────

// SessionOpened is called after a session is connected.
type SessionOpened interface {
	OnSessionOpened(ctx context.Context, sessionID id.SessionID, stateless bool) error
}

// SessionClosed is called after a session is disconnected.
type SessionClosed interface {
	OnSessionClosed(ctx context.Context, sessionID id.SessionID) error
}

// ──────────────────────────────────────────────────
// Flush lifecycle hooks
// ──────────────────────────────────────────────────

// BeforeFlush is called before a session executes its pending operations.
type BeforeFlush interface {
	OnBeforeFlush(ctx context.Context, sessionID id.SessionID, queued int) error
}

// AfterFlush is called after every pending operation executed.
type AfterFlush interface {
	OnAfterFlush(ctx context.Context, sessionID id.SessionID, stats pending.Stats, elapsed time.Duration) error
}

// FlushFailed is called when a flush aborts.
type FlushFailed interface {
	OnFlushFailed(ctx context.Context, sessionID id.SessionID, err error) error
}

// ──────────────────────────────────────────────────
// Entity lifecycle hooks
// ──────────────────────────────────────────────────

// EntityPersisted is called after an insert or update reaches the backend.
type EntityPersisted interface {
	OnEntityPersisted(ctx context.Context, entity string, key any) error
}

// EntityDeleted is called after a delete reaches the backend.
type EntityDeleted interface {
	OnEntityDeleted(ctx context.Context, entity string, key any) error
}

// ──────────────────────────────────────────────────
// Transaction lifecycle hooks
// ──────────────────────────────────────────────────

// TransactionCompleted is called after a transaction commits or rolls back.
type TransactionCompleted interface {
	OnTransactionCompleted(ctx context.Context, txID id.TransactionID, committed bool) error
}

// ──────────────────────────────────────────────────
// Shutdown hook
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
