package datastore

import (
	"context"
	"log/slog"

	"github.com/xraph/datastore/id"
)

// Transaction brackets a unit of work on a session. Commit flushes pending
// operations; Rollback discards them.
type Transaction struct {
	id      id.TransactionID
	session *Session
	active  bool
}

// ID returns the transaction identifier.
func (t *Transaction) ID() id.TransactionID { return t.id }

// Session returns the owning session.
func (t *Transaction) Session() *Session { return t.session }

// IsActive reports whether the transaction has neither committed nor rolled
// back.
func (t *Transaction) IsActive() bool {
	t.session.mu.RLock()
	defer t.session.mu.RUnlock()
	return t.active
}

// BeginTransaction starts a transaction. Only one transaction can be active
// per session.
func (s *Session) BeginTransaction(_ context.Context) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return nil, ErrSessionClosed
	}
	if s.transaction != nil && s.transaction.active {
		return nil, ErrTransactionActive
	}
	s.transaction = &Transaction{id: id.NewTransactionID(), session: s, active: true}
	return s.transaction, nil
}

// Transaction returns the current transaction.
func (s *Session) Transaction() (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.transaction == nil {
		return nil, ErrNoTransaction
	}
	return s.transaction, nil
}

// HasTransaction reports whether a transaction is active.
func (s *Session) HasTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transaction != nil && s.transaction.active
}

// Commit flushes the session. The transaction stays active when the flush
// fails so the caller can roll back.
func (t *Transaction) Commit(ctx context.Context) error {
	if !t.IsActive() {
		return ErrNoTransaction
	}
	if err := t.session.Flush(ctx); err != nil {
		return err
	}
	t.complete(ctx, true)
	return nil
}

// Rollback clears the session, discarding pending operations.
func (t *Transaction) Rollback(ctx context.Context) error {
	if !t.IsActive() {
		return ErrNoTransaction
	}
	t.session.Clear()
	t.complete(ctx, false)
	return nil
}

func (t *Transaction) complete(ctx context.Context, committed bool) {
	s := t.session
	s.mu.Lock()
	t.active = false
	s.mu.Unlock()

	s.logger.Debug("datastore: transaction completed",
		slog.String("transaction", t.id.String()),
		slog.Bool("committed", committed),
	)
	if s.plugins != nil {
		s.plugins.EmitTransactionCompleted(ctx, t.id, committed)
	}
}
