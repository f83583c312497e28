// Package memory provides an in-memory implementation of the datastore
// backend. It is intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
	"github.com/xraph/datastore/store"
)

// Compile-time interface checks.
var (
	_ store.Store                 = (*Store)(nil)
	_ store.Locker                = (*Store)(nil)
	_ persister.SequenceGenerator = (*Store)(nil)
)

type collection struct {
	order   []string
	entries map[string]mapping.Entry
	seq     int64
}

func newCollection() *collection {
	return &collection{entries: make(map[string]mapping.Entry)}
}

// Store is a thread-safe in-memory store for native entries. Entries are
// copied on the way in and out, and listed in insertion order.
type Store struct {
	mu sync.RWMutex

	collections map[string]*collection
	locks       map[string]string // collection/key -> owner
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		locks:       make(map[string]string),
	}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = newCollection()
		s.collections[name] = c
	}
	return c
}

// ──────────────────────────────────────────────────
// Entry operations
// ──────────────────────────────────────────────────

func (s *Store) InsertEntry(_ context.Context, collection, key string, entry mapping.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	if _, ok := c.entries[key]; ok {
		return fmt.Errorf("%s %s: %w", collection, key, persister.ErrDuplicateKey)
	}
	c.entries[key] = entry.Clone()
	c.order = append(c.order, key)
	return nil
}

func (s *Store) UpdateEntry(_ context.Context, collection, key string, entry mapping.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	if _, ok := c.entries[key]; !ok {
		return fmt.Errorf("%s %s: %w", collection, key, persister.ErrEntryNotFound)
	}
	c.entries[key] = entry.Clone()
	return nil
}

func (s *Store) GetEntry(_ context.Context, collection, key string) (mapping.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", collection, key, persister.ErrEntryNotFound)
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", collection, key, persister.ErrEntryNotFound)
	}
	return e.Clone(), nil
}

func (s *Store) GetEntries(_ context.Context, collection string, keys []string) (map[string]mapping.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]mapping.Entry, len(keys))
	c, ok := s.collections[collection]
	if !ok {
		return out, nil
	}
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			out[k] = e.Clone()
		}
	}
	return out, nil
}

func (s *Store) DeleteEntries(_ context.Context, collection string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(c.entries, k)
		delete(s.locks, lockKey(collection, k))
	}
	c.order = slices.DeleteFunc(c.order, func(k string) bool {
		_, live := c.entries[k]
		return !live
	})
	return nil
}

func (s *Store) ListEntries(_ context.Context, collection string, criteria persister.Criteria) ([]mapping.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return []mapping.Entry{}, nil
	}
	all := make([]mapping.Entry, 0, len(c.order))
	for _, k := range c.order {
		all = append(all, c.entries[k].Clone())
	}
	return persister.ApplyCriteria(all, criteria), nil
}

// NextSequence returns the next numeric identifier for collection,
// starting at 1.
func (s *Store) NextSequence(_ context.Context, collection string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	c.seq++
	return c.seq, nil
}

// ──────────────────────────────────────────────────
// Locker
// ──────────────────────────────────────────────────

func lockKey(collection, key string) string { return collection + "/" + key }

func (s *Store) Lock(_ context.Context, collection, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := lockKey(collection, key)
	if held, ok := s.locks[k]; ok && held != owner {
		return fmt.Errorf("%s: %w", k, store.ErrLocked)
	}
	s.locks[k] = owner
	return nil
}

func (s *Store) Unlock(_ context.Context, collection, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := lockKey(collection, key)
	if s.locks[k] == owner {
		delete(s.locks, k)
	}
	return nil
}
