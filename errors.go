package datastore

import (
	"errors"

	"github.com/xraph/datastore/pending"
)

var (
	// ErrNonPersistentType is returned when no persister can be resolved for
	// a type.
	ErrNonPersistentType = errors.New("datastore: not a known persistent type")

	// ErrConnectionNotFound is returned when no session is bound to the
	// calling context.
	ErrConnectionNotFound = errors.New("datastore: no session bound to the current context")

	// ErrCapacityExceeded is returned when a session queues more pending work
	// than it can hold. Flush periodically during batch operations.
	ErrCapacityExceeded = pending.ErrCapacityExceeded

	// ErrFlushAfterException is returned by Flush once a previous flush
	// failed, until the session is cleared.
	ErrFlushAfterException = errors.New("datastore: do not flush the session after an exception occurs")

	// ErrLockingUnsupported is returned by Lock when the backend has no
	// pessimistic locking.
	ErrLockingUnsupported = errors.New("datastore: backend does not support locking")

	// ErrSessionClosed is returned by every operation on a disconnected session.
	ErrSessionClosed = errors.New("datastore: session is disconnected")

	// ErrNilInstance is returned when a nil instance is passed to a write.
	ErrNilInstance = errors.New("datastore: instance must not be nil")

	// ErrNoTransaction is returned when no transaction has been started.
	ErrNoTransaction = errors.New("datastore: transaction not started")

	// ErrTransactionActive is returned when beginning a transaction while
	// another one is active.
	ErrTransactionActive = errors.New("datastore: transaction already active")

	// ErrSessionAlreadyBound is returned when binding a session to a scope
	// that already has one.
	ErrSessionAlreadyBound = errors.New("datastore: a session is already bound to this scope")

	// ErrStoreRequired is returned by New when no store was configured.
	ErrStoreRequired = errors.New("datastore: store is required")
)
