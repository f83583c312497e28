// Package cache provides second-level entry caches shared by datastore
// sessions.
package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
)

// Compile-time interface check.
var _ persister.LoadingCache = (*Memory)(nil)

// Memory is an in-memory LRU cache with TTL-based expiration. Concurrent
// misses for the same entry share a single load.
type Memory struct {
	lru   *expirable.LRU[string, mapping.Entry]
	group singleflight.Group

	ttl     time.Duration
	maxSize int

	hits   atomic.Int64
	misses atomic.Int64
}

// MemoryOption configures the memory cache.
type MemoryOption func(*Memory)

// WithTTL sets the cache entry time-to-live.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// WithMaxSize sets the maximum number of cache entries.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) { m.maxSize = n }
}

// NewMemory creates a new in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		ttl:     5 * time.Minute,
		maxSize: 10000,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lru = expirable.NewLRU[string, mapping.Entry](m.maxSize, nil, m.ttl)
	return m
}

// Stats reports lookups served from the cache and lookups that missed.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// Stats returns a snapshot of the cache counters.
func (m *Memory) Stats() Stats {
	return Stats{Hits: m.hits.Load(), Misses: m.misses.Load(), Size: m.lru.Len()}
}

// Get returns a copy of the cached entry.
func (m *Memory) Get(_ context.Context, collection, key string) (mapping.Entry, bool) {
	e, ok := m.lru.Get(cacheKey(collection, key))
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	return e.Clone(), true
}

// Set stores a copy of entry.
func (m *Memory) Set(_ context.Context, collection, key string, entry mapping.Entry) {
	m.lru.Add(cacheKey(collection, key), entry.Clone())
}

// Invalidate removes one entry.
func (m *Memory) Invalidate(_ context.Context, collection, key string) {
	m.lru.Remove(cacheKey(collection, key))
}

// InvalidateCollection removes every entry of a collection.
func (m *Memory) InvalidateCollection(_ context.Context, collection string) {
	prefix := collectionPrefix(collection)
	for _, k := range m.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.lru.Remove(k)
		}
	}
}

// GetOrLoad returns the cached entry or runs load once for all concurrent
// callers asking for the same key. Failed loads are not cached.
func (m *Memory) GetOrLoad(ctx context.Context, collection, key string, load func(context.Context) (mapping.Entry, error)) (mapping.Entry, error) {
	if e, ok := m.Get(ctx, collection, key); ok {
		return e, nil
	}
	k := cacheKey(collection, key)
	v, err, _ := m.group.Do(k, func() (any, error) {
		if e, ok := m.lru.Get(k); ok {
			return e, nil
		}
		e, err := load(ctx)
		if err != nil {
			return nil, err
		}
		m.lru.Add(k, e.Clone())
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(mapping.Entry).Clone(), nil
}

// Purge removes every entry.
func (m *Memory) Purge() {
	m.lru.Purge()
}

func collectionPrefix(collection string) string {
	return collection + "\x00"
}

func cacheKey(collection, key string) string {
	return collectionPrefix(collection) + key
}
