package persister

import (
	"context"

	"github.com/xraph/datastore/mapping"
)

// CacheAdapter is a second-level entry cache shared across sessions.
// Entries handed to and returned from it are copies.
type CacheAdapter interface {
	Get(ctx context.Context, collection, key string) (mapping.Entry, bool)
	Set(ctx context.Context, collection, key string, entry mapping.Entry)
	Invalidate(ctx context.Context, collection, key string)
	InvalidateCollection(ctx context.Context, collection string)
}

// LoadingCache is a CacheAdapter that collapses concurrent misses for the
// same key into one load.
type LoadingCache interface {
	CacheAdapter
	GetOrLoad(ctx context.Context, collection, key string, load func(context.Context) (mapping.Entry, error)) (mapping.Entry, error)
}
