package persister

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/spf13/cast"

	"github.com/xraph/datastore/mapping"
)

// Backend stores native entries grouped by collection under string keys.
type Backend interface {
	// InsertEntry stores a new entry. Returns ErrDuplicateKey if key exists.
	InsertEntry(ctx context.Context, collection, key string, entry mapping.Entry) error

	// UpdateEntry replaces an existing entry. Returns ErrEntryNotFound if
	// key does not exist.
	UpdateEntry(ctx context.Context, collection, key string, entry mapping.Entry) error

	// GetEntry returns the entry for key or ErrEntryNotFound.
	GetEntry(ctx context.Context, collection, key string) (mapping.Entry, error)

	// GetEntries returns the entries that exist among keys.
	GetEntries(ctx context.Context, collection string, keys []string) (map[string]mapping.Entry, error)

	// DeleteEntries removes the entries for keys. Missing keys are ignored.
	DeleteEntries(ctx context.Context, collection string, keys []string) error

	// ListEntries returns the entries matching c.
	ListEntries(ctx context.Context, collection string, c Criteria) ([]mapping.Entry, error)
}

// SequenceGenerator is implemented by backends that can hand out numeric
// identifiers.
type SequenceGenerator interface {
	NextSequence(ctx context.Context, collection string) (int64, error)
}

// ──────────────────────────────────────────────────
// Criteria
// ──────────────────────────────────────────────────

// Operator is a comparison used in a Criterion.
type Operator string

// Supported operators.
const (
	OpEq Operator = "eq"
	OpNe Operator = "ne"
	OpGt Operator = "gt"
	OpGe Operator = "ge"
	OpLt Operator = "lt"
	OpLe Operator = "le"
	OpIn Operator = "in"
)

// Criterion restricts a property.
type Criterion struct {
	Property string
	Op       Operator
	Value    any
}

// Order sorts by a property.
type Order struct {
	Property string
	Desc     bool
}

// Criteria is the backend-neutral form of a query.
type Criteria struct {
	Restrictions []Criterion
	Orders       []Order
	Max          int
	Offset       int
}

// Matches reports whether entry satisfies every restriction.
func (c Criteria) Matches(entry mapping.Entry) bool {
	for _, r := range c.Restrictions {
		if !r.matches(entry[r.Property]) {
			return false
		}
	}
	return true
}

func (r Criterion) matches(v any) bool {
	switch r.Op {
	case OpEq:
		return Compare(v, r.Value) == 0
	case OpNe:
		return Compare(v, r.Value) != 0
	case OpGt:
		return Compare(v, r.Value) > 0
	case OpGe:
		return Compare(v, r.Value) >= 0
	case OpLt:
		return Compare(v, r.Value) < 0
	case OpLe:
		return Compare(v, r.Value) <= 0
	case OpIn:
		vals, err := cast.ToSliceE(r.Value)
		if err != nil {
			return false
		}
		for _, candidate := range vals {
			if Compare(v, candidate) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ApplyCriteria filters, sorts and pages entries in memory. Backends that
// cannot push a query down use it on the loaded collection.
func ApplyCriteria(entries []mapping.Entry, c Criteria) []mapping.Entry {
	out := make([]mapping.Entry, 0, len(entries))
	for _, e := range entries {
		if c.Matches(e) {
			out = append(out, e)
		}
	}
	if len(c.Orders) > 0 {
		slices.SortStableFunc(out, func(a, b mapping.Entry) int {
			for _, o := range c.Orders {
				n := Compare(a[o.Property], b[o.Property])
				if o.Desc {
					n = -n
				}
				if n != 0 {
					return n
				}
			}
			return 0
		})
	}
	if c.Offset > 0 {
		if c.Offset >= len(out) {
			return out[:0]
		}
		out = out[c.Offset:]
	}
	if c.Max > 0 && len(out) > c.Max {
		out = out[:c.Max]
	}
	return out
}

// Compare orders two entry values. Numbers compare numerically regardless of
// their Go type, times chronologically, and everything else by string form.
// Nil sorts first.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, err := cast.ToTimeE(b); err == nil {
			return ta.Compare(tb)
		}
	}
	if tb, ok := b.(time.Time); ok {
		if ta, err := cast.ToTimeE(a); err == nil {
			return ta.Compare(tb)
		}
	}
	if isNumber(a) || isNumber(b) {
		if ia, ok := integral(a); ok {
			if ib, ok := integral(b); ok {
				return ia.Cmp(ib)
			}
		}
		fa, errA := cast.ToFloat64E(a)
		fb, errB := cast.ToFloat64E(b)
		if errA == nil && errB == nil {
			return cmp.Compare(fa, fb)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// integral returns v as an exact integer when it has no fractional part in
// its representation.
func integral(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case int, int8, int16, int32, int64:
		return big.NewInt(cast.ToInt64(n)), true
	case uint, uint8, uint16, uint32, uint64:
		return new(big.Int).SetUint64(cast.ToUint64(n)), true
	case json.Number:
		return new(big.Int).SetString(string(n), 10)
	case string:
		return new(big.Int).SetString(n, 10)
	}
	return nil, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}
