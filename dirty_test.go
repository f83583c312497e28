package datastore

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
	"github.com/xraph/datastore/store/memory"
)

type chapter struct {
	ID   string `datastore:"id"`
	Text string `datastore:"text"`
}

// manuscript tracks its own changes.
type manuscript struct {
	ID       string     `datastore:"id"`
	Title    string     `datastore:"title"`
	Chapters []*chapter `datastore:"chapters"`

	changed bool
	marked  []string
}

func (m *manuscript) HasChanged() bool { return m.changed }

func (m *manuscript) MarkDirty(property string) {
	m.changed = true
	m.marked = append(m.marked, property)
}

// trackedChapters is a persistent collection that records mutation.
type trackedChapters struct {
	items []*chapter
	dirty bool
}

func (c *trackedChapters) IsDirty() bool { return c.dirty }
func (c *trackedChapters) ResetDirty()   { c.dirty = false }

func newDirtyDatastore(t *testing.T, opts ...Option) (*Datastore, *memory.Store) {
	t.Helper()
	ms := memory.New()
	ds := newTestDatastore(t, ms, opts...)
	if _, err := ds.Register("Chapter", &chapter{}); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.Register("Manuscript", &manuscript{},
		mapping.WithAssociation("Chapters", mapping.OneToMany, "Chapter"),
	); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, c := range []mapping.Entry{
		{"id": "c1", "text": "It was a dark and stormy night."},
		{"id": "c2", "text": "The end."},
	} {
		if err := ms.InsertEntry(ctx, "Chapter", c["id"].(string), c); err != nil {
			t.Fatal(err)
		}
	}
	if err := ms.InsertEntry(ctx, "Manuscript", "m1", mapping.Entry{"id": "m1", "title": "Draft"}); err != nil {
		t.Fatal(err)
	}
	seedAuthor(t, ms, 1, "Shirley Jackson")
	return ds, ms
}

func TestIsDirtyNativeEntry(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDirtyDatastore(t)
	s := connect(t, ds)

	a, err := s.Retrieve(ctx, "Author", int64(1))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.DirtyStrategy(a); got != DirtyNativeEntry {
		t.Fatalf("expected native-entry strategy, got %s", got)
	}
	if s.IsDirty(a) {
		t.Fatal("expected a freshly loaded instance to be clean")
	}

	a.(*author).Name = "S. Jackson"
	if !s.IsDirty(a) {
		t.Fatal("expected a modified instance to be dirty")
	}
	if diff := cmp.Diff([]string{"name"}, s.DirtyPropertyNames(a)); diff != "" {
		t.Fatalf("dirty properties mismatch (-want +got):\n%s", diff)
	}

	// A different object carrying the same identifier is dirty.
	copyOf := &author{ID: 1, Name: "S. Jackson"}
	if !s.IsDirty(copyOf) {
		t.Fatal("expected an instance other than the cached one to be dirty")
	}

	if s.IsDirty(&author{Name: "never saved"}) {
		t.Fatal("expected an instance without identifier to be clean")
	}
	if s.IsDirty(nil) {
		t.Fatal("expected nil to be clean")
	}
}

func TestIsDirtySelfReporting(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDirtyDatastore(t)
	s := connect(t, ds)

	m, err := s.Retrieve(ctx, "Manuscript", "m1")
	if err != nil {
		t.Fatal(err)
	}
	ms := m.(*manuscript)
	if got := s.DirtyStrategy(ms); got != DirtySelfReporting {
		t.Fatalf("expected self-reporting strategy, got %s", got)
	}
	if s.IsDirty(ms) {
		t.Fatal("expected a clean manuscript")
	}

	ms.changed = true
	if !s.IsDirty(ms) {
		t.Fatal("expected HasChanged to be honored")
	}
	ms.changed = false

	// A dirty associated instance makes the owner dirty.
	chapters, err := s.RetrieveAll(ctx, "Chapter", []any{"c1", "c2"})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range chapters {
		ms.Chapters = append(ms.Chapters, c.(*chapter))
	}
	if s.IsDirty(ms) {
		t.Fatal("expected clean associations to keep the owner clean")
	}
	ms.Chapters[1].Text = "The real end."
	if !s.IsDirty(ms) {
		t.Fatal("expected a dirty chapter to make the manuscript dirty")
	}
}

// opaquePersister hides the entry persister's dirty checking.
type opaquePersister struct{ persister.Persister }

func TestIsDirtyUnsupported(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDirtyDatastore(t, WithPersisterFactory(func(e *mapping.PersistentEntity, s *Session) persister.Persister {
		return opaquePersister{persister.NewEntryPersister(e, s, s.Store())}
	}))
	s := connect(t, ds)

	a, err := s.Retrieve(ctx, "Author", int64(1))
	if err != nil {
		t.Fatal(err)
	}
	a.(*author).Name = "changed"
	if got := s.DirtyStrategy(a); got != DirtyUnsupported {
		t.Fatalf("expected unsupported strategy, got %s", got)
	}
	if s.IsDirty(a) {
		t.Fatal("expected IsDirty to report false when unsupported")
	}
}

func TestDirtyCollectionsMarkOwnerOnFlush(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDirtyDatastore(t)
	s := connect(t, ds)

	m, err := s.Retrieve(ctx, "Manuscript", "m1")
	if err != nil {
		t.Fatal(err)
	}
	e := ds.MappingContext().PersistentEntity("Manuscript")
	coll := &trackedChapters{dirty: true}
	s.CacheCollection(e, "m1", "chapters", coll)
	if s.CachedCollection(e, "m1", "chapters") != coll {
		t.Fatal("expected the collection to be cached")
	}

	// Flush only does work when something is pending.
	if _, err := s.Persist(ctx, &chapter{ID: "c3", Text: "Epilogue."}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"chapters"}, m.(*manuscript).marked); diff != "" {
		t.Fatalf("marked properties mismatch (-want +got):\n%s", diff)
	}
	if coll.IsDirty() {
		t.Fatal("expected the collection to be reset")
	}
	if s.CachedCollection(e, "m1", "chapters") != nil {
		t.Fatal("expected the collection cache to be cleared after flush")
	}
}
