package datastore

import (
	"context"
	"fmt"
	"reflect"

	"github.com/xraph/datastore/persister"
)

// Get retrieves the T with key through s. It returns the zero T and false
// when no instance exists.
func Get[T any](ctx context.Context, s *Session, key any) (T, bool, error) {
	var zero T
	inst, err := s.Retrieve(ctx, reflect.TypeFor[T](), key)
	if err != nil || inst == nil {
		return zero, false, err
	}
	v, ok := inst.(T)
	if !ok {
		return zero, false, fmt.Errorf("datastore: retrieved %T, want %T", inst, zero)
	}
	return v, true, nil
}

// GetAll retrieves one T per key in key order. Missing instances are the
// zero T.
func GetAll[T any](ctx context.Context, s *Session, keys ...any) ([]T, error) {
	list, err := s.RetrieveAll(ctx, reflect.TypeFor[T](), keys)
	if err != nil {
		return nil, err
	}
	return castAll[T](list)
}

// QueryFor starts a query over T.
func QueryFor[T any](s *Session) (*persister.Query, error) {
	return s.CreateQuery(reflect.TypeFor[T]())
}

// ListAll runs q and converts the results to T.
func ListAll[T any](ctx context.Context, q *persister.Query) ([]T, error) {
	list, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	return castAll[T](list)
}

func castAll[T any](list []any) ([]T, error) {
	out := make([]T, len(list))
	for i, inst := range list {
		if inst == nil {
			continue
		}
		v, ok := inst.(T)
		if !ok {
			return nil, fmt.Errorf("datastore: result %d is %T, want %T", i, inst, v)
		}
		out[i] = v
	}
	return out, nil
}
