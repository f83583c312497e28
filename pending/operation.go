// Package pending holds the deferred insert, update and delete operations a
// session accumulates between flushes, and executes them in phase order.
package pending

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/datastore/mapping"
)

// Kind identifies the phase an operation runs in.
type Kind int

const (
	// Insert operations run first.
	Insert Kind = iota
	// Update operations run after every insert.
	Update
	// Delete operations run last.
	Delete
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrAlreadyExecuted is returned when an operation is executed a second time.
var ErrAlreadyExecuted = errors.New("pending: operation already executed")

// RunFunc performs the backend work of an operation.
type RunFunc func(ctx context.Context) error

// Operation is a single deferred write. It is created during persist or
// delete, queued, and executed at most once.
type Operation struct {
	Kind       Kind
	Entity     *mapping.PersistentEntity
	Identifier any
	Instance   any
	Access     *mapping.EntityAccess

	run      RunFunc
	pre      []*Operation
	cascades []*Operation
	vetoed   bool
	executed bool
}

// NewOperation creates an operation of the given kind.
func NewOperation(kind Kind, entity *mapping.PersistentEntity, identifier, instance any, access *mapping.EntityAccess, run RunFunc) *Operation {
	return &Operation{
		Kind:       kind,
		Entity:     entity,
		Identifier: identifier,
		Instance:   instance,
		Access:     access,
		run:        run,
	}
}

// EntityName returns the name of the operation's entity, or "" when unset.
func (o *Operation) EntityName() string {
	if o.Entity == nil {
		return ""
	}
	return o.Entity.Name
}

// AddPreOperation appends an operation that runs before this one.
func (o *Operation) AddPreOperation(op *Operation) { o.pre = append(o.pre, op) }

// AddCascadeOperation appends an operation that runs after this one.
func (o *Operation) AddCascadeOperation(op *Operation) { o.cascades = append(o.cascades, op) }

// PreOperations returns the ordered pre-operations.
func (o *Operation) PreOperations() []*Operation { return o.pre }

// CascadeOperations returns the ordered cascade operations.
func (o *Operation) CascadeOperations() []*Operation { return o.cascades }

// Veto prevents the operation from running. Pre-operations and cascades are
// skipped with it.
func (o *Operation) Veto() { o.vetoed = true }

// IsVetoed reports whether Veto was called.
func (o *Operation) IsVetoed() bool { return o.vetoed }

// IsExecuted reports whether the operation has run.
func (o *Operation) IsExecuted() bool { return o.executed }

// Execute runs pre-operations, the operation itself, then cascades. It
// reports whether the operation ran; vetoed operations return false.
func (o *Operation) Execute(ctx context.Context) (bool, error) {
	if o.executed {
		return false, ErrAlreadyExecuted
	}
	if o.vetoed {
		return false, nil
	}
	o.executed = true

	for _, p := range o.pre {
		if p.executed {
			continue
		}
		if _, err := p.Execute(ctx); err != nil {
			return true, err
		}
	}
	if o.run != nil {
		if err := o.run(ctx); err != nil {
			return true, err
		}
	}
	for _, c := range o.cascades {
		if c.executed {
			continue
		}
		if _, err := c.Execute(ctx); err != nil {
			return true, err
		}
	}
	return true, nil
}
