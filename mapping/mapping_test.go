package mapping

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/xraph/datastore/id"
)

type author struct {
	ID      int64  `datastore:"id"`
	Name    string `datastore:"name"`
	Version int    `datastore:"version"`
	Books   []*book
	Secret  string `datastore:"-"`
}

type book struct {
	Key       string    `datastore:"key"`
	Title     string    `datastore:"title"`
	Published time.Time `datastore:"published"`
	Author    *author
}

type handle struct {
	ID   id.ID
	Note string
}

func newAuthorEntity(t *testing.T) *PersistentEntity {
	t.Helper()
	e, err := NewEntity("Author", author{}, WithAssociation("Books", OneToMany, "Book"))
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	return e
}

func TestNewEntityDiscovery(t *testing.T) {
	e := newAuthorEntity(t)

	if e.Identity.Field != "ID" || e.Identity.Name != "id" {
		t.Fatalf("identity = %+v", e.Identity)
	}
	if !e.IsVersioned() || e.Version.Name != "version" {
		t.Fatalf("expected version property, got %+v", e.Version)
	}
	if len(e.Properties) != 3 {
		t.Fatalf("expected 3 properties, got %d", len(e.Properties))
	}
	if _, ok := e.PropertyByName("Secret"); ok {
		t.Fatal("tagged '-' field must be skipped")
	}
	if _, ok := e.PropertyByName("Books"); ok {
		t.Fatal("associations must not be properties")
	}
	a, ok := e.AssociationByName("Books")
	if !ok || !a.Kind.IsCollection() || a.Target != "Book" {
		t.Fatalf("association = %+v, %v", a, ok)
	}
	if e.CollectionName() != "Author" {
		t.Fatalf("collection = %q", e.CollectionName())
	}
}

func TestNewEntityErrors(t *testing.T) {
	if _, err := NewEntity("Bad", 42); !errors.Is(err, ErrNotStruct) {
		t.Fatalf("expected ErrNotStruct, got %v", err)
	}
	if _, err := NewEntity("Book", book{}); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
	if _, err := NewEntity("Book", &book{}, WithIdentity("Key")); err != nil {
		t.Fatalf("pointer sample with explicit identity: %v", err)
	}
}

func TestInheritanceSharesRootCollection(t *testing.T) {
	root, err := NewEntity("Handle", handle{}, WithCollection("handles"))
	if err != nil {
		t.Fatal(err)
	}
	type special struct {
		ID   id.ID
		Kind string
	}
	child, err := NewEntity("Special", special{}, WithParent(root))
	if err != nil {
		t.Fatal(err)
	}
	if child.IsRoot() || child.Root() != root {
		t.Fatal("child should resolve to root")
	}
	if child.CollectionName() != "handles" {
		t.Fatalf("collection = %q", child.CollectionName())
	}
	if len(root.Children()) != 1 || root.Children()[0] != child {
		t.Fatal("root children not recorded")
	}
}

func TestContextRegistration(t *testing.T) {
	mc := NewContext()
	e := mc.MustRegister("Author", author{}, WithAssociation("Books", OneToMany, "Book"))
	mc.MustRegister("Book", book{}, WithIdentity("Key"))

	if mc.PersistentEntity("Author") != e {
		t.Fatal("lookup by name failed")
	}
	if mc.EntityFor(&author{}) != e {
		t.Fatal("lookup by instance failed")
	}
	if mc.EntityFor(nil) != nil || mc.PersistentEntity("Nope") != nil {
		t.Fatal("unknown lookups should return nil")
	}
	if _, err := mc.Register("Author", author{}); !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("expected ErrDuplicateEntity, got %v", err)
	}
	names := []string{}
	for _, pe := range mc.Entities() {
		names = append(names, pe.Name)
	}
	if !reflect.DeepEqual(names, []string{"Author", "Book"}) {
		t.Fatalf("entities = %v", names)
	}
}

func TestConversionService(t *testing.T) {
	cs := NewConversionService()

	v, err := cs.Convert("42", reflect.TypeFor[int64]())
	if err != nil || v.(int64) != 42 {
		t.Fatalf("string->int64 = %v, %v", v, err)
	}
	v, err = cs.Convert(7, reflect.TypeFor[string]())
	if err != nil || v.(string) != "7" {
		t.Fatalf("int->string = %v, %v", v, err)
	}
	if _, err := cs.Convert("abc", reflect.TypeFor[int64]()); err == nil {
		t.Fatal("expected conversion failure")
	}

	for _, tc := range []struct {
		value  any
		target reflect.Type
	}{
		{int64(300), reflect.TypeFor[int8]()},
		{int64(-129), reflect.TypeFor[int8]()},
		{"70000", reflect.TypeFor[uint16]()},
		{1e300, reflect.TypeFor[float32]()},
	} {
		if _, err := cs.Convert(tc.value, tc.target); !errors.Is(err, ErrOverflow) {
			t.Fatalf("Convert(%v, %s): expected ErrOverflow, got %v", tc.value, tc.target, err)
		}
	}
	v, err = cs.Convert(int64(127), reflect.TypeFor[int8]())
	if err != nil || v.(int8) != 127 {
		t.Fatalf("int64->int8 = %v, %v", v, err)
	}

	hid := id.NewHandleID()
	v, err = cs.Convert(hid.String(), reflect.TypeFor[id.ID]())
	if err != nil || v.(id.ID).String() != hid.String() {
		t.Fatalf("string->id.ID = %v, %v", v, err)
	}

	type code string
	cs.AddConverter(reflect.TypeFor[code](), func(value any) (any, error) {
		return code("C-" + value.(string)), nil
	})
	v, err = cs.Convert("1", reflect.TypeFor[code]())
	if err != nil || v.(code) != "C-1" {
		t.Fatalf("custom converter = %v, %v", v, err)
	}

	s, err := cs.ToString(hid)
	if err != nil || s != hid.String() {
		t.Fatalf("ToString(id) = %q, %v", s, err)
	}
	s, err = cs.ToString(int64(9))
	if err != nil || s != "9" {
		t.Fatalf("ToString(int64) = %q, %v", s, err)
	}
}

func TestEntityAccess(t *testing.T) {
	mc := NewContext()
	e := mc.MustRegister("Author", author{}, WithAssociation("Books", OneToMany, "Book"))

	a := &author{Name: "Le Guin"}
	acc, err := mc.CreateEntityAccess(e, a)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Identifier() != nil {
		t.Fatal("zero identity should read as nil")
	}
	if err := acc.SetIdentifier("12"); err != nil {
		t.Fatal(err)
	}
	if a.ID != 12 || acc.Identifier().(int64) != 12 {
		t.Fatalf("identifier = %v", acc.Identifier())
	}
	if err := acc.IncrementVersion(); err != nil || a.Version != 1 {
		t.Fatalf("version = %d, %v", a.Version, err)
	}
	if err := acc.SetProperty("name", "Butler"); err != nil || a.Name != "Butler" {
		t.Fatalf("SetProperty: %v", err)
	}
	if _, err := acc.PropertyValue("missing"); !errors.Is(err, ErrUnknownProperty) {
		t.Fatalf("expected ErrUnknownProperty, got %v", err)
	}
	if _, err := mc.CreateEntityAccess(e, author{}); err == nil {
		t.Fatal("non-pointer instance should be rejected")
	}
	if _, err := mc.CreateEntityAccess(e, &book{}); err == nil {
		t.Fatal("mismatched type should be rejected")
	}
}

func TestEntryRoundTrip(t *testing.T) {
	mc := NewContext()
	e := mc.MustRegister("Book", book{}, WithIdentity("Key"), WithAssociation("Author", ManyToOne, "Author"))

	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &book{Key: "b1", Title: "Kindred", Published: when, Author: &author{ID: 1}}
	acc, _ := mc.CreateEntityAccess(e, src)
	entry, err := acc.ToEntry()
	if err != nil {
		t.Fatal(err)
	}
	if len(entry) != 3 {
		t.Fatalf("entry should hold only properties, got %v", entry)
	}
	if _, ok := entry["Author"]; ok {
		t.Fatal("association leaked into entry")
	}

	// Entries decoded from JSON carry strings for times.
	entry["published"] = when.Format(time.RFC3339Nano)
	entry["extra"] = "ignored"

	dst := &book{}
	dacc, _ := mc.CreateEntityAccess(e, dst)
	if err := dacc.FromEntry(entry); err != nil {
		t.Fatal(err)
	}
	if dst.Key != "b1" || dst.Title != "Kindred" || !dst.Published.Equal(when) {
		t.Fatalf("decoded = %+v", dst)
	}

	clone := entry.Clone()
	clone["title"] = "changed"
	if entry["title"] != "Kindred" {
		t.Fatal("Clone must not alias the original")
	}
}
