// Package store defines the aggregate backend interface the datastore
// persists entries through. A single backend (memory, sqlite, postgres,
// mongo, s3) implements the entry operations plus lifecycle management.
package store

import (
	"context"
	"errors"

	"github.com/xraph/datastore/persister"
)

// ErrLocked is returned by Locker implementations when another owner holds
// the lock.
var ErrLocked = errors.New("store: entry is locked by another owner")

// Store is the aggregate backend interface.
type Store interface {
	persister.Backend

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the backend connection.
	Close() error
}

// Locker is implemented by backends that support pessimistic locking of
// single entries.
type Locker interface {
	// Lock acquires the lock on collection/key for owner. Re-locking by the
	// same owner succeeds.
	Lock(ctx context.Context, collection, key, owner string) error

	// Unlock releases the lock if owner holds it.
	Unlock(ctx context.Context, collection, key, owner string) error
}
