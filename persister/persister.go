// Package persister defines the contract between a session and the
// backend-specific code that turns entities into native storage and back.
//
// The session depends only on Persister. EntryPersister is the generic
// implementation: it snapshots entities into mapping.Entry values, queues
// pending operations through the owning session, and hands entries to a
// Backend at flush time.
package persister

import (
	"context"
	"errors"

	"github.com/xraph/datastore/id"
	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/pending"
)

var (
	// ErrEntryNotFound is returned by backends when no entry exists for a key.
	ErrEntryNotFound = errors.New("persister: entry not found")

	// ErrDuplicateKey is returned by backends when inserting an existing key.
	ErrDuplicateKey = errors.New("persister: duplicate key")

	// ErrIdentityRequired is returned when a new instance has no identifier
	// and none can be generated for its identity type.
	ErrIdentityRequired = errors.New("persister: identifier required")

	// ErrOptimisticLock is returned when a versioned entity was changed by
	// someone else since it was loaded.
	ErrOptimisticLock = errors.New("persister: optimistic locking failure")
)

// Persister translates one entity type to and from native storage.
type Persister interface {
	// Entity returns the metadata of the persisted type.
	Entity() *mapping.PersistentEntity

	// Persist saves a new or changed instance and returns its identifier.
	// The write is queued until the session flushes.
	Persist(ctx context.Context, instance any) (any, error)

	// PersistAll persists a homogeneous batch.
	PersistAll(ctx context.Context, instances []any) ([]any, error)

	// Insert queues an insert even when the instance already has an identifier.
	Insert(ctx context.Context, instance any) (any, error)

	// Retrieve loads the instance for key, or returns nil when none exists.
	Retrieve(ctx context.Context, key any) (any, error)

	// RetrieveAll loads every existing instance among keys. The result may
	// be shorter than keys and in any order.
	RetrieveAll(ctx context.Context, keys []any) ([]any, error)

	// Refresh reloads the instance state from the backend.
	Refresh(ctx context.Context, instance any) (any, error)

	// Delete queues a delete of the instance.
	Delete(ctx context.Context, instance any) error

	// DeleteAll queues a single batched delete of the instances.
	DeleteAll(ctx context.Context, instances []any) error

	// ObjectIdentifier returns the identifier of instance, or nil.
	ObjectIdentifier(instance any) any

	// CreateQuery starts a query over the entity.
	CreateQuery() *Query
}

// NativeEntryPersister is a persister that can diff an instance against a
// native entry.
type NativeEntryPersister interface {
	Persister
	IsDirty(instance any, entry mapping.Entry) bool
}

// Session is the part of the owning session a persister works through.
type Session interface {
	ID() id.SessionID
	MappingContext() *mapping.Context
	IsStateless(e *mapping.PersistentEntity) bool

	CachedInstance(e *mapping.PersistentEntity, key any) any
	CacheInstance(e *mapping.PersistentEntity, key, instance any)
	CachedEntry(e *mapping.PersistentEntity, key any, forDirtyCheck bool) mapping.Entry
	CacheEntry(e *mapping.PersistentEntity, key any, entry mapping.Entry)
	Forget(e *mapping.PersistentEntity, key any)

	EnqueueInsert(op *pending.Operation) error
	EnqueueUpdate(op *pending.Operation) error
	EnqueueDelete(op *pending.Operation) error
	IsPendingAlready(instance any) bool
}

// Listener is notified after queued writes reach the backend.
type Listener interface {
	EntityPersisted(ctx context.Context, e *mapping.PersistentEntity, key, instance any)
	EntityDeleted(ctx context.Context, e *mapping.PersistentEntity, key any)
}
