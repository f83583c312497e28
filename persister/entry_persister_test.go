package persister_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/xraph/datastore/id"
	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/pending"
	"github.com/xraph/datastore/persister"
	"github.com/xraph/datastore/store/memory"
)

type novel struct {
	ID      int64  `datastore:"id"`
	Title   string `datastore:"title"`
	Version int64  `datastore:"version"`
}

type reader struct {
	ID   id.ID  `datastore:"id"`
	Name string `datastore:"name"`
}

type tag struct {
	ID    string `datastore:"id"`
	Label string `datastore:"label"`
}

// fakeSession is a minimal first-level cache and queue.
type fakeSession struct {
	mc        *mapping.Context
	queue     *pending.Queue
	instances map[string]any
	entries   map[string]mapping.Entry
	baselines map[string]mapping.Entry
}

func newFakeSession(mc *mapping.Context) *fakeSession {
	return &fakeSession{
		mc:        mc,
		queue:     pending.New(),
		instances: make(map[string]any),
		entries:   make(map[string]mapping.Entry),
		baselines: make(map[string]mapping.Entry),
	}
}

func fk(e *mapping.PersistentEntity, key any) string { return fmt.Sprintf("%s/%v", e.Name, key) }

func (f *fakeSession) ID() id.SessionID                             { return id.NewSessionID() }
func (f *fakeSession) MappingContext() *mapping.Context             { return f.mc }
func (f *fakeSession) IsStateless(e *mapping.PersistentEntity) bool { return e.IsStateless() }
func (f *fakeSession) CachedInstance(e *mapping.PersistentEntity, key any) any {
	return f.instances[fk(e, key)]
}
func (f *fakeSession) CacheInstance(e *mapping.PersistentEntity, key, instance any) {
	f.instances[fk(e, key)] = instance
}
func (f *fakeSession) CachedEntry(e *mapping.PersistentEntity, key any, forDirtyCheck bool) mapping.Entry {
	if forDirtyCheck {
		return f.baselines[fk(e, key)]
	}
	return f.entries[fk(e, key)]
}
func (f *fakeSession) CacheEntry(e *mapping.PersistentEntity, key any, entry mapping.Entry) {
	f.entries[fk(e, key)] = entry
	f.baselines[fk(e, key)] = entry.Clone()
}
func (f *fakeSession) Forget(e *mapping.PersistentEntity, key any) {
	delete(f.instances, fk(e, key))
	delete(f.entries, fk(e, key))
	delete(f.baselines, fk(e, key))
}
func (f *fakeSession) EnqueueInsert(op *pending.Operation) error { return f.queue.EnqueueInsert(op) }
func (f *fakeSession) EnqueueUpdate(op *pending.Operation) error { return f.queue.EnqueueUpdate(op) }
func (f *fakeSession) EnqueueDelete(op *pending.Operation) error { return f.queue.EnqueueDelete(op) }
func (f *fakeSession) IsPendingAlready(instance any) bool        { return f.queue.IsPendingAlready(instance) }

func (f *fakeSession) flush(t *testing.T) error {
	t.Helper()
	_, err := f.queue.Flush(context.Background(), nil)
	f.queue.Clear()
	return err
}

// mapCache is a trivial CacheAdapter.
type mapCache struct {
	mu      sync.Mutex
	entries map[string]mapping.Entry
	gets    int
}

func newMapCache() *mapCache { return &mapCache{entries: make(map[string]mapping.Entry)} }

func (c *mapCache) Get(_ context.Context, collection, key string) (mapping.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	e, ok := c.entries[collection+"/"+key]
	return e.Clone(), ok
}

func (c *mapCache) Set(_ context.Context, collection, key string, entry mapping.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[collection+"/"+key] = entry.Clone()
}

func (c *mapCache) Invalidate(_ context.Context, collection, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, collection+"/"+key)
}

func (c *mapCache) InvalidateCollection(_ context.Context, collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, collection+"/") {
			delete(c.entries, k)
		}
	}
}

type listener struct {
	persisted []string
	deleted   []string
}

func (l *listener) EntityPersisted(_ context.Context, e *mapping.PersistentEntity, key, _ any) {
	l.persisted = append(l.persisted, fk(e, key))
}

func (l *listener) EntityDeleted(_ context.Context, e *mapping.PersistentEntity, key any) {
	l.deleted = append(l.deleted, fk(e, key))
}

func setup(t *testing.T) (*mapping.Context, *fakeSession, *memory.Store) {
	t.Helper()
	mc := mapping.NewContext()
	mc.MustRegister("Novel", &novel{})
	mc.MustRegister("Reader", &reader{})
	mc.MustRegister("Tag", &tag{})
	return mc, newFakeSession(mc), memory.New()
}

func TestPersistAssignsIdentifiers(t *testing.T) {
	ctx := context.Background()
	mc, sess, ms := setup(t)

	np := persister.NewEntryPersister(mc.PersistentEntity("Novel"), sess, ms)
	n := &novel{Title: "Beloved"}
	key, err := np.Persist(ctx, n)
	if err != nil {
		t.Fatal(err)
	}
	if key != int64(1) || n.ID != 1 {
		t.Fatalf("expected sequence identifier 1, got %v", key)
	}

	rp := persister.NewEntryPersister(mc.PersistentEntity("Reader"), sess, ms)
	r := &reader{Name: "Ada"}
	if _, err := rp.Persist(ctx, r); err != nil {
		t.Fatal(err)
	}
	if r.ID.IsNil() || r.ID.Prefix() != id.EntityPrefix("Reader") {
		t.Fatalf("expected a typed identifier, got %v", r.ID)
	}

	tp := persister.NewEntryPersister(mc.PersistentEntity("Tag"), sess, ms)
	tg := &tag{Label: "classic"}
	if _, err := tp.Persist(ctx, tg); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(tg.ID, string(id.EntityPrefix("Tag"))+"_") {
		t.Fatalf("expected a prefixed string identifier, got %q", tg.ID)
	}

	// Persisting again within the same cycle queues nothing new.
	if _, err := np.Persist(ctx, n); err != nil {
		t.Fatal(err)
	}
	if got := len(sess.queue.Inserts()); got != 3 {
		t.Fatalf("expected 3 pending inserts, got %d", got)
	}

	if err := sess.flush(t); err != nil {
		t.Fatal(err)
	}
	if _, err := ms.GetEntry(ctx, "Novel", "1"); err != nil {
		t.Fatalf("expected the novel to be stored: %v", err)
	}
}

func TestPersistWithoutBaselineChecksExistence(t *testing.T) {
	ctx := context.Background()
	mc, sess, ms := setup(t)
	if err := ms.InsertEntry(ctx, "Novel", "5", mapping.Entry{"id": int64(5), "title": "old", "version": int64(0)}); err != nil {
		t.Fatal(err)
	}
	np := persister.NewEntryPersister(mc.PersistentEntity("Novel"), sess, ms)

	if _, err := np.Persist(ctx, &novel{ID: 5, Title: "new"}); err != nil {
		t.Fatal(err)
	}
	if _, err := np.Persist(ctx, &novel{ID: 6, Title: "fresh"}); err != nil {
		t.Fatal(err)
	}
	if len(sess.queue.Updates()) != 1 || len(sess.queue.Inserts()) != 1 {
		t.Fatalf("expected 1 insert and 1 update, got %+v", sess.queue)
	}
}

func TestOptimisticLocking(t *testing.T) {
	ctx := context.Background()
	mc, sess, ms := setup(t)
	if err := ms.InsertEntry(ctx, "Novel", "1", mapping.Entry{"id": int64(1), "title": "v0", "version": int64(0)}); err != nil {
		t.Fatal(err)
	}
	np := persister.NewEntryPersister(mc.PersistentEntity("Novel"), sess, ms)

	loaded, err := np.Retrieve(ctx, int64(1))
	if err != nil {
		t.Fatal(err)
	}
	n := loaded.(*novel)
	n.Title = "v1"
	if _, err := np.Persist(ctx, n); err != nil {
		t.Fatal(err)
	}
	if err := sess.flush(t); err != nil {
		t.Fatal(err)
	}
	if n.Version != 1 {
		t.Fatalf("expected version 1, got %d", n.Version)
	}

	// Someone else bumps the stored version.
	if err := ms.UpdateEntry(ctx, "Novel", "1", mapping.Entry{"id": int64(1), "title": "theirs", "version": int64(5)}); err != nil {
		t.Fatal(err)
	}
	n.Title = "mine"
	if _, err := np.Persist(ctx, n); err != nil {
		t.Fatal(err)
	}
	if err := sess.flush(t); !errors.Is(err, persister.ErrOptimisticLock) {
		t.Fatalf("expected ErrOptimisticLock, got %v", err)
	}
}

func TestRetrieveUsesSecondLevelCache(t *testing.T) {
	ctx := context.Background()
	mc, sess, ms := setup(t)
	cache := newMapCache()
	l := &listener{}
	np := persister.NewEntryPersister(mc.PersistentEntity("Novel"), sess, ms,
		persister.WithCache(cache), persister.WithListener(l))

	if _, err := np.Persist(ctx, &novel{Title: "Jazz"}); err != nil {
		t.Fatal(err)
	}
	if err := sess.flush(t); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.entries["Novel/1"]; !ok {
		t.Fatal("expected the write to populate the cache")
	}

	// Remove from the backend: a fresh session still sees the cached entry.
	if err := ms.DeleteEntries(ctx, "Novel", []string{"1"}); err != nil {
		t.Fatal(err)
	}
	other := newFakeSession(mc)
	op := persister.NewEntryPersister(mc.PersistentEntity("Novel"), other, ms, persister.WithCache(cache))
	got, err := op.Retrieve(ctx, int64(1))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.(*novel).Title != "Jazz" {
		t.Fatalf("expected the cached novel, got %v", got)
	}

	if err := np.Delete(ctx, got); err != nil {
		t.Fatal(err)
	}
	if err := sess.flush(t); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.entries["Novel/1"]; ok {
		t.Fatal("expected delete to invalidate the cache")
	}
	if fmt.Sprint(l.persisted) != "[Novel/1]" || fmt.Sprint(l.deleted) != "[Novel/1]" {
		t.Fatalf("unexpected listener calls %v %v", l.persisted, l.deleted)
	}
}

func TestRetrieveAllAndQuery(t *testing.T) {
	ctx := context.Background()
	mc, sess, ms := setup(t)
	for i, title := range []string{"c", "a", "b"} {
		key := fmt.Sprint(i + 1)
		if err := ms.InsertEntry(ctx, "Novel", key, mapping.Entry{"id": int64(i + 1), "title": title, "version": int64(0)}); err != nil {
			t.Fatal(err)
		}
	}
	np := persister.NewEntryPersister(mc.PersistentEntity("Novel"), sess, ms)

	found, err := np.RetrieveAll(ctx, []any{int64(3), int64(99), int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("expected only existing entries, got %d", len(found))
	}

	list, err := np.CreateQuery().OrderBy("title", false).Max(2).List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].(*novel).Title != "a" || list[1].(*novel).Title != "b" {
		t.Fatalf("unexpected query result %v", list)
	}
	// Query results reuse instances the session already holds.
	if list[1] != found[0] {
		t.Fatal("expected the identity map to hold across retrieve and query")
	}

	single, err := np.CreateQuery().Where("id", persister.OpGt, 1).OrderBy("id", true).Single(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if single.(*novel).ID != 3 {
		t.Fatalf("expected novel 3, got %v", single)
	}
}

func TestIsDirty(t *testing.T) {
	ctx := context.Background()
	mc, sess, ms := setup(t)
	if err := ms.InsertEntry(ctx, "Novel", "1", mapping.Entry{"id": int64(1), "title": "t", "version": int64(0)}); err != nil {
		t.Fatal(err)
	}
	np := persister.NewEntryPersister(mc.PersistentEntity("Novel"), sess, ms)
	got, err := np.Retrieve(ctx, int64(1))
	if err != nil {
		t.Fatal(err)
	}
	e := mc.PersistentEntity("Novel")
	baseline := sess.CachedEntry(e, int64(1), true)
	if np.IsDirty(got, baseline) {
		t.Fatal("expected a loaded instance to be clean")
	}
	got.(*novel).Title = "changed"
	if !np.IsDirty(got, baseline) {
		t.Fatal("expected a changed instance to be dirty")
	}
	if np.IsDirty(got, nil) {
		t.Fatal("expected no baseline to mean clean")
	}
}
