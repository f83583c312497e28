package pending

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/datastore/mapping"
)

type record struct {
	ID   int64
	Name string
}

func entity(t *testing.T, name string) *mapping.PersistentEntity {
	t.Helper()
	e, err := mapping.NewEntity(name, record{})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// recorder logs operation execution as "kind:entity:n".
type recorder struct {
	log []string
}

func (r *recorder) op(e *mapping.PersistentEntity, n int, fail error) *Operation {
	inst := &record{ID: int64(n)}
	return NewOperation(Insert, e, int64(n), inst, nil, func(context.Context) error { return fail })
}

func (r *recorder) logged(kind Kind, e *mapping.PersistentEntity, n int, fail error) *Operation {
	inst := &record{ID: int64(n)}
	return NewOperation(kind, e, int64(n), inst, nil, func(context.Context) error {
		r.log = append(r.log, fmt.Sprintf("%s:%s:%d", kind, e.Name, n))
		return fail
	})
}

func TestFlushPhaseOrdering(t *testing.T) {
	ctx := context.Background()
	a, b := entity(t, "A"), entity(t, "B")
	r := &recorder{}
	q := New()

	// Updates registered before inserts still run after every insert.
	if err := q.EnqueueUpdate(r.logged(Update, a, 1, nil)); err != nil {
		t.Fatal(err)
	}
	for _, op := range []*Operation{
		r.logged(Insert, a, 1, nil),
		r.logged(Insert, b, 2, nil),
		r.logged(Insert, a, 3, nil),
	} {
		if err := q.EnqueueInsert(op); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.EnqueueDelete(r.logged(Delete, b, 4, nil)); err != nil {
		t.Fatal(err)
	}

	stats, err := q.Flush(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"insert:A:1", "insert:A:3", "insert:B:2", "update:A:1", "delete:B:4"}
	if diff := cmp.Diff(want, r.log); diff != "" {
		t.Fatalf("execution order (-want +got):\n%s", diff)
	}
	if stats != (Stats{Inserts: 3, Updates: 1, Deletes: 1}) || stats.Total() != 5 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestFlushAbortsOnFailure(t *testing.T) {
	ctx := context.Background()
	a := entity(t, "A")
	r := &recorder{}
	q := New()
	boom := errors.New("boom")

	_ = q.EnqueueInsert(r.logged(Insert, a, 0, nil))
	_ = q.EnqueueDelete(r.logged(Delete, a, 1, nil))
	_ = q.EnqueueDelete(r.logged(Delete, a, 2, boom))
	third := r.logged(Delete, a, 3, nil)
	_ = q.EnqueueDelete(third)

	var failed error
	_, err := q.Flush(ctx, func(err error) { failed = err })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !errors.Is(failed, boom) {
		t.Fatal("onFailure not called with the failure")
	}
	if third.IsExecuted() {
		t.Fatal("operation after the failure must not run")
	}
	if diff := cmp.Diff([]string{"insert:A:0", "delete:A:1", "delete:A:2"}, r.log); diff != "" {
		t.Fatalf("execution (-want +got):\n%s", diff)
	}
	// Flush leaves clearing to the owner.
	if q.Len() != 4 {
		t.Fatalf("expected queue to be left intact, len=%d", q.Len())
	}
}

func TestCapacityDistinctTypes(t *testing.T) {
	q := New()
	r := &recorder{}
	for i := range DefaultCapacity {
		if err := q.EnqueueInsert(r.op(entity(t, fmt.Sprintf("T%d", i)), i, nil)); err != nil {
			t.Fatalf("type %d: %v", i, err)
		}
	}
	extra := entity(t, "Overflow")
	if err := q.EnqueueInsert(r.op(extra, 0, nil)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded for type %d, got %v", DefaultCapacity+1, err)
	}
	// Types already tracked keep accepting work.
	if err := q.EnqueueInsert(r.op(entity(t, "T0"), 1, nil)); err != nil {
		t.Fatalf("known type rejected: %v", err)
	}
	// Each kind has its own bound.
	if err := q.EnqueueDelete(r.op(extra, 0, nil)); err != nil {
		t.Fatalf("delete phase should be independent: %v", err)
	}
	if got := len(q.Types(Insert)); got != DefaultCapacity {
		t.Fatalf("tracked types = %d", got)
	}
}

func TestCapacityPerType(t *testing.T) {
	q := New(WithMaxOperationsPerType(3))
	a, b := entity(t, "A"), entity(t, "B")
	r := &recorder{}
	for i := range 3 {
		if err := q.EnqueueUpdate(r.op(a, i, nil)); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.EnqueueUpdate(r.op(a, 3, nil)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if err := q.EnqueueUpdate(r.op(b, 0, nil)); err != nil {
		t.Fatalf("other type rejected: %v", err)
	}
	if len(q.Updates()) != 4 {
		t.Fatalf("updates = %d", len(q.Updates()))
	}
}

func TestPendingAlreadyAndClear(t *testing.T) {
	a := entity(t, "A")
	inst := &record{ID: 1}
	other := &record{ID: 1}
	q := New()

	if q.IsPendingAlready(inst) {
		t.Fatal("nothing queued yet")
	}
	_ = q.EnqueueInsert(NewOperation(Insert, a, nil, inst, nil, nil))
	if !q.IsPendingAlready(inst) {
		t.Fatal("instance should be pending")
	}
	if q.IsPendingAlready(other) {
		t.Fatal("pending-already is by reference, not by value")
	}
	_ = q.EnqueueDelete(NewOperation(Delete, a, int64(2), other, nil, nil))
	if q.IsPendingAlready(other) {
		t.Fatal("deletes do not mark instances pending")
	}

	q.Clear()
	if !q.Empty() || q.IsPendingAlready(inst) {
		t.Fatal("Clear must drop operations and pending marks")
	}
}

func TestOperationLifecycle(t *testing.T) {
	ctx := context.Background()
	a := entity(t, "A")
	var log []string
	step := func(name string) RunFunc {
		return func(context.Context) error {
			log = append(log, name)
			return nil
		}
	}

	op := NewOperation(Insert, a, int64(1), &record{}, nil, step("main"))
	op.AddPreOperation(NewOperation(Insert, a, int64(0), &record{}, nil, step("pre")))
	op.AddCascadeOperation(NewOperation(Insert, a, int64(2), &record{}, nil, step("cascade")))

	ran, err := op.Execute(ctx)
	if err != nil || !ran {
		t.Fatalf("Execute = %v, %v", ran, err)
	}
	if diff := cmp.Diff([]string{"pre", "main", "cascade"}, log); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if _, err := op.Execute(ctx); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}

	vetoed := NewOperation(Delete, a, int64(3), &record{}, nil, step("vetoed"))
	vetoed.Veto()
	q := New()
	_ = q.EnqueueDelete(vetoed)
	stats, err := q.Flush(ctx, nil)
	if err != nil || stats.Deletes != 0 || vetoed.IsExecuted() {
		t.Fatalf("vetoed operation ran: %+v %v", stats, err)
	}
}

func TestOperationsQueuedDuringFlushRun(t *testing.T) {
	ctx := context.Background()
	a := entity(t, "A")
	q := New()
	var late bool
	_ = q.EnqueueInsert(NewOperation(Insert, a, int64(1), &record{}, nil, func(context.Context) error {
		return q.EnqueueInsert(NewOperation(Insert, a, int64(2), &record{}, nil, func(context.Context) error {
			late = true
			return nil
		}))
	}))
	stats, err := q.Flush(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !late || stats.Inserts != 2 {
		t.Fatalf("late insert not executed: %+v", stats)
	}
}

func TestEnqueueRejectsNil(t *testing.T) {
	q := New()
	if err := q.EnqueueInsert(nil); !errors.Is(err, ErrNilOperation) {
		t.Fatalf("expected ErrNilOperation, got %v", err)
	}
	if err := q.EnqueueInsert(&Operation{}); !errors.Is(err, ErrNilOperation) {
		t.Fatalf("expected ErrNilOperation, got %v", err)
	}
}
