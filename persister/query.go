package persister

import (
	"context"
	"fmt"

	"github.com/xraph/datastore/mapping"
)

// Query is a fluent criteria builder bound to one persister. Results are
// materialized through the session so the identity map holds.
type Query struct {
	entity   *mapping.PersistentEntity
	criteria Criteria
	list     func(ctx context.Context, c Criteria) ([]any, error)
	before   func(ctx context.Context) error
}

// NewQuery creates a query whose List delegates to list.
func NewQuery(e *mapping.PersistentEntity, list func(ctx context.Context, c Criteria) ([]any, error)) *Query {
	return &Query{entity: e, list: list}
}

// Entity returns the queried entity.
func (q *Query) Entity() *mapping.PersistentEntity { return q.entity }

// BeforeList registers fn to run before each execution.
func (q *Query) BeforeList(fn func(ctx context.Context) error) *Query {
	q.before = fn
	return q
}

// Criteria returns the accumulated criteria.
func (q *Query) Criteria() Criteria { return q.criteria }

// Where adds a restriction.
func (q *Query) Where(property string, op Operator, value any) *Query {
	q.criteria.Restrictions = append(q.criteria.Restrictions, Criterion{Property: property, Op: op, Value: value})
	return q
}

// Eq restricts property to value.
func (q *Query) Eq(property string, value any) *Query { return q.Where(property, OpEq, value) }

// In restricts property to one of values.
func (q *Query) In(property string, values ...any) *Query { return q.Where(property, OpIn, values) }

// OrderBy adds a sort.
func (q *Query) OrderBy(property string, desc bool) *Query {
	q.criteria.Orders = append(q.criteria.Orders, Order{Property: property, Desc: desc})
	return q
}

// Max limits the number of results.
func (q *Query) Max(n int) *Query {
	q.criteria.Max = n
	return q
}

// Offset skips the first n results.
func (q *Query) Offset(n int) *Query {
	q.criteria.Offset = n
	return q
}

// List executes the query.
func (q *Query) List(ctx context.Context) ([]any, error) {
	if q.list == nil {
		return nil, fmt.Errorf("persister: query on %s is not bound", q.entity)
	}
	if q.before != nil {
		if err := q.before(ctx); err != nil {
			return nil, err
		}
	}
	return q.list(ctx, q.criteria)
}

// Count executes the query and returns the number of results.
func (q *Query) Count(ctx context.Context) (int, error) {
	res, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(res), nil
}

// Single executes the query and returns the first result, or nil.
func (q *Query) Single(ctx context.Context) (any, error) {
	saved := q.criteria.Max
	q.criteria.Max = 1
	defer func() { q.criteria.Max = saved }()
	res, err := q.List(ctx)
	if err != nil || len(res) == 0 {
		return nil, err
	}
	return res[0], nil
}
