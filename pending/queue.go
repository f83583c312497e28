package pending

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// DefaultCapacity is the number of distinct entity types the insert and
// update phases each track before enqueueing fails. Deletes are unbounded.
const DefaultCapacity = 5000

var (
	// ErrCapacityExceeded is returned when an enqueue would exceed the
	// queue's bounds. Nothing is dropped; the caller must flush first.
	ErrCapacityExceeded = errors.New("pending: operation queue capacity exceeded")

	// ErrNilOperation is returned when enqueueing a nil operation or one
	// without an entity.
	ErrNilOperation = errors.New("pending: operation and entity are required")
)

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity sets the maximum number of distinct entity types tracked by
// the insert and update phases. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithMaxOperationsPerType caps the number of inserts or updates queued for
// a single entity type. Zero disables the cap.
func WithMaxOperationsPerType(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxPerType = n
		}
	}
}

// Stats counts the operations a flush executed.
type Stats struct {
	Inserts int
	Updates int
	Deletes int
}

// Total returns the number of executed operations.
func (s Stats) Total() int { return s.Inserts + s.Updates + s.Deletes }

func (s *Stats) add(k Kind) {
	switch k {
	case Insert:
		s.Inserts++
	case Update:
		s.Updates++
	case Delete:
		s.Deletes++
	}
}

// phase is a bounded map of entity type to FIFO queue that remembers the
// order in which types were first seen.
type phase struct {
	order []string
	ops   map[string][]*Operation
}

func newPhase() *phase { return &phase{ops: make(map[string][]*Operation)} }

// Queue holds the pending operations of one session.
type Queue struct {
	mu             sync.Mutex
	capacity       int
	maxPerType     int
	phases         [3]*phase
	pendingAlready map[any]struct{}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.reset()
	return q
}

func (q *Queue) reset() {
	for i := range q.phases {
		q.phases[i] = newPhase()
	}
	q.pendingAlready = make(map[any]struct{})
}

// Capacity returns the distinct-type bound per kind.
func (q *Queue) Capacity() int { return q.capacity }

// EnqueueInsert marks the instance as pending and queues an insert.
func (q *Queue) EnqueueInsert(op *Operation) error {
	return q.enqueue(Insert, op, true)
}

// EnqueueUpdate marks the instance as pending and queues an update.
func (q *Queue) EnqueueUpdate(op *Operation) error {
	return q.enqueue(Update, op, true)
}

// EnqueueDelete queues a delete.
func (q *Queue) EnqueueDelete(op *Operation) error {
	return q.enqueue(Delete, op, false)
}

func (q *Queue) enqueue(kind Kind, op *Operation, markPending bool) error {
	if op == nil || op.Entity == nil {
		return ErrNilOperation
	}
	op.Kind = kind

	q.mu.Lock()
	defer q.mu.Unlock()

	p := q.phases[kind]
	name := op.Entity.Name
	queued, tracked := p.ops[name]
	bounded := kind != Delete
	if bounded && !tracked && len(p.order) >= q.capacity {
		return fmt.Errorf("%w: %d entity types already queued for %s", ErrCapacityExceeded, len(p.order), kind)
	}
	if bounded && q.maxPerType > 0 && len(queued) >= q.maxPerType {
		return fmt.Errorf("%w: %d %s operations already queued for %s", ErrCapacityExceeded, len(queued), kind, name)
	}

	if markPending {
		if key, ok := identityKey(op.Instance); ok {
			q.pendingAlready[key] = struct{}{}
		}
	}
	if !tracked {
		p.order = append(p.order, name)
	}
	p.ops[name] = append(queued, op)
	return nil
}

// IsPendingAlready reports whether an insert or update for this exact
// instance is queued in the current cycle.
func (q *Queue) IsPendingAlready(instance any) bool {
	key, ok := identityKey(instance)
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, pending := q.pendingAlready[key]
	return pending
}

// identityKey returns a map key with reference semantics for pointers.
// Values of non-comparable types are not tracked.
func identityKey(instance any) (any, bool) {
	if instance == nil {
		return nil, false
	}
	if !reflect.TypeOf(instance).Comparable() {
		return nil, false
	}
	return instance, true
}

// Flush executes every queued insert, then every update, then every delete.
// Entity types run in first-registration order and operations within a type
// in enqueue order. Operations queued while flushing are picked up if their
// phase has not finished. The first failure calls onFailure, abandons the
// remaining work and is returned. The queue is not cleared.
func (q *Queue) Flush(ctx context.Context, onFailure func(error)) (Stats, error) {
	var stats Stats
	for _, kind := range []Kind{Insert, Update, Delete} {
		if err := q.runPhase(ctx, kind, &stats); err != nil {
			if onFailure != nil {
				onFailure(err)
			}
			return stats, err
		}
	}
	return stats, nil
}

func (q *Queue) runPhase(ctx context.Context, kind Kind, stats *Stats) error {
	for ti := 0; ; ti++ {
		name, ok := q.typeAt(kind, ti)
		if !ok {
			return nil
		}
		for oi := 0; ; oi++ {
			op, ok := q.opAt(kind, name, oi)
			if !ok {
				break
			}
			if op.IsExecuted() {
				continue
			}
			ran, err := op.Execute(ctx)
			if err != nil {
				return fmt.Errorf("pending: %s %s: %w", kind, name, err)
			}
			if ran {
				stats.add(kind)
			}
		}
	}
}

func (q *Queue) typeAt(kind Kind, i int) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.phases[kind]
	if i >= len(p.order) {
		return "", false
	}
	return p.order[i], true
}

func (q *Queue) opAt(kind Kind, name string, i int) (*Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops := q.phases[kind].ops[name]
	if i >= len(ops) {
		return nil, false
	}
	return ops[i], true
}

// Clear drops every queued operation and the pending-already set without
// executing anything.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reset()
}

// Inserts returns the queued inserts in execution order.
func (q *Queue) Inserts() []*Operation { return q.snapshot(Insert) }

// Updates returns the queued updates in execution order.
func (q *Queue) Updates() []*Operation { return q.snapshot(Update) }

// Deletes returns the queued deletes in execution order.
func (q *Queue) Deletes() []*Operation { return q.snapshot(Delete) }

func (q *Queue) snapshot(kind Kind) []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.phases[kind]
	var out []*Operation
	for _, name := range p.order {
		out = append(out, p.ops[name]...)
	}
	return out
}

// Types returns the entity types queued for kind in first-registration order.
func (q *Queue) Types(kind Kind) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.phases[kind].order...)
}

// Len returns the total number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.phases {
		for _, ops := range p.ops {
			n += len(ops)
		}
	}
	return n
}

// Empty reports whether nothing is queued.
func (q *Queue) Empty() bool { return q.Len() == 0 }
