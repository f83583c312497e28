package datastore

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/xraph/datastore/mapping"
)

// cacheKey identifies an instance or entry by entity and identifier.
type cacheKey struct {
	entity string
	key    any
}

// collectionKey identifies a cached association collection.
type collectionKey struct {
	entity     string
	key        any
	collection string
}

// normalizeKey makes an identifier usable as a map key. Identifiers of
// non-comparable types are keyed by their printed form.
func normalizeKey(key any) any {
	if key == nil || reflect.TypeOf(key).Comparable() {
		return key
	}
	return fmt.Sprint(key)
}

// sameInstance reports whether a and b are the same instance. Pointers
// compare by address; values of non-comparable types never match.
func sameInstance(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// entityCache is the first-level cache of a session: instances, live
// entries, dirty-check baselines and association collections. Stateless
// checks happen in the session before any call reaches it.
type entityCache struct {
	mu           sync.RWMutex
	instances    map[string]map[any]any
	entries      map[cacheKey]mapping.Entry
	dirtyEntries map[cacheKey]mapping.Entry
	collections  map[collectionKey]any
}

func newEntityCache() *entityCache {
	return &entityCache{
		instances:    make(map[string]map[any]any),
		entries:      make(map[cacheKey]mapping.Entry),
		dirtyEntries: make(map[cacheKey]mapping.Entry),
		collections:  make(map[collectionKey]any),
	}
}

// ensureSlot creates the instance map for an entity.
func (c *entityCache) ensureSlot(entity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.instances[entity]; !ok {
		c.instances[entity] = make(map[any]any)
	}
}

func (c *entityCache) getInstance(entity string, key any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instances[entity][normalizeKey(key)]
}

func (c *entityCache) putInstance(entity string, key, instance any) {
	if entity == "" || key == nil || instance == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.instances[entity]
	if !ok {
		slot = make(map[any]any)
		c.instances[entity] = slot
	}
	slot[normalizeKey(key)] = instance
}

func (c *entityCache) hasInstance(entity string, key any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.instances[entity][normalizeKey(key)]
	return ok
}

// containsInstance scans an entity's slot for instance by reference.
func (c *entityCache) containsInstance(entity string, instance any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.instances[entity] {
		if sameInstance(v, instance) {
			return true
		}
	}
	return false
}

func (c *entityCache) evict(entity string, key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.instances[entity], normalizeKey(key))
}

func (c *entityCache) getEntry(entity string, key any, forDirtyCheck bool) mapping.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k := cacheKey{entity, normalizeKey(key)}
	if forDirtyCheck {
		return c.dirtyEntries[k]
	}
	return c.entries[k]
}

// putEntry stores the live entry and an independent baseline copy.
func (c *entityCache) putEntry(entity string, key any, entry mapping.Entry) {
	if entity == "" || key == nil || entry == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey{entity, normalizeKey(key)}
	c.entries[k] = entry
	c.dirtyEntries[k] = entry.Clone()
}

func (c *entityCache) removeEntries(entity string, key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey{entity, normalizeKey(key)}
	delete(c.entries, k)
	delete(c.dirtyEntries, k)
}

func (c *entityCache) getCollection(entity string, key any, name string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collections[collectionKey{entity, normalizeKey(key), name}]
}

func (c *entityCache) putCollection(entity string, key any, name string, coll any) {
	if entity == "" || key == nil || coll == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collections[collectionKey{entity, normalizeKey(key), name}] = coll
}

// eachCollection calls fn for every cached collection.
func (c *entityCache) eachCollection(fn func(k collectionKey, coll any)) {
	c.mu.RLock()
	snapshot := make(map[collectionKey]any, len(c.collections))
	for k, v := range c.collections {
		snapshot[k] = v
	}
	c.mu.RUnlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}

func (c *entityCache) clearCollections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collections = make(map[collectionKey]any)
}

// clear empties all four caches. Instance slots survive, emptied.
func (c *entityCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.instances {
		c.instances[name] = make(map[any]any)
	}
	c.entries = make(map[cacheKey]mapping.Entry)
	c.dirtyEntries = make(map[cacheKey]mapping.Entry)
	c.collections = make(map[collectionKey]any)
}
