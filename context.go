package datastore

import "context"

type contextKey int

const ctxKeyScope contextKey = iota

// WithScope returns a context carrying a binding scope. Sessions bound
// through the registry are looked up by datastore and scope, so anything
// comparable that identifies the unit of work (a request ID, a worker ID)
// will do.
func WithScope(ctx context.Context, scope any) context.Context {
	return context.WithValue(ctx, ctxKeyScope, scope)
}

// ScopeFromContext returns the binding scope carried by ctx.
func ScopeFromContext(ctx context.Context) (any, bool) {
	v := ctx.Value(ctxKeyScope)
	if v == nil {
		return nil, false
	}
	return v, true
}
