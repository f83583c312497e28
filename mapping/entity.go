// Package mapping defines the static metadata the datastore session works
// against: persistent entities, their identity and version properties,
// associations and inheritance, plus the conversion service and entity
// access used to read and write instance state.
package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// TagName is the struct tag consulted for property names.
const TagName = "datastore"

var (
	// ErrNoIdentity is returned when an entity type has no identity property.
	ErrNoIdentity = errors.New("mapping: entity has no identity property")

	// ErrNotStruct is returned when a sample value is not a struct or pointer to struct.
	ErrNotStruct = errors.New("mapping: entity sample must be a struct or pointer to struct")

	// ErrUnknownProperty is returned when a property name is not mapped.
	ErrUnknownProperty = errors.New("mapping: unknown property")

	// ErrDuplicateEntity is returned when an entity name is registered twice.
	ErrDuplicateEntity = errors.New("mapping: entity already registered")

	// ErrOverflow is returned when a number does not fit the target type.
	ErrOverflow = errors.New("mapping: value out of range")
)

// AssociationKind classifies an association between two entities.
type AssociationKind int

const (
	// OneToOne links a single owner to a single target.
	OneToOne AssociationKind = iota
	// ManyToOne links many owners to a single target.
	ManyToOne
	// OneToMany links a single owner to a collection of targets.
	OneToMany
	// ManyToMany links collections on both sides.
	ManyToMany
)

// IsCollection reports whether the association holds a collection.
func (k AssociationKind) IsCollection() bool { return k == OneToMany || k == ManyToMany }

// Property describes one mapped struct field.
type Property struct {
	// Field is the Go struct field name.
	Field string
	// Name is the entry key the property is stored under.
	Name string
	// Type is the declared Go type of the field.
	Type reflect.Type

	index []int
}

// Association describes a property that references other entities. Association
// values are never written into native entries.
type Association struct {
	Property
	Kind   AssociationKind
	Target string
}

// MappedForm carries per-entity mapping flags.
type MappedForm struct {
	// Stateless entities bypass every first-level cache.
	Stateless bool
	// Collection overrides the table/collection/bucket prefix a backend uses.
	Collection string
}

// PersistentEntity is the immutable metadata for one persistent type.
type PersistentEntity struct {
	Name         string
	Type         reflect.Type
	Identity     Property
	Version      *Property
	Properties   []Property
	Associations []Association
	Mapping      MappedForm

	parent   *PersistentEntity
	children []*PersistentEntity
	byName   map[string]int
}

// EntityOption configures entity construction.
type EntityOption func(*entityBuilder)

type entityBuilder struct {
	identity     string
	version      string
	stateless    bool
	collection   string
	parent       *PersistentEntity
	associations map[string]Association
}

// WithIdentity names the identity field. Defaults to "ID".
func WithIdentity(field string) EntityOption {
	return func(b *entityBuilder) { b.identity = field }
}

// WithVersion names the optimistic version field. Defaults to "Version" when present.
func WithVersion(field string) EntityOption {
	return func(b *entityBuilder) { b.version = field }
}

// WithStateless marks the entity as never cached by sessions.
func WithStateless() EntityOption {
	return func(b *entityBuilder) { b.stateless = true }
}

// WithCollection overrides the backend collection name.
func WithCollection(name string) EntityOption {
	return func(b *entityBuilder) { b.collection = name }
}

// WithParent declares the inheritance parent of the entity.
func WithParent(parent *PersistentEntity) EntityOption {
	return func(b *entityBuilder) { b.parent = parent }
}

// WithAssociation declares field as an association to target.
func WithAssociation(field string, kind AssociationKind, target string) EntityOption {
	return func(b *entityBuilder) {
		if b.associations == nil {
			b.associations = make(map[string]Association)
		}
		b.associations[field] = Association{Kind: kind, Target: target}
	}
}

// NewEntity builds entity metadata from a sample value of the entity type.
func NewEntity(name string, sample any, opts ...EntityOption) (*PersistentEntity, error) {
	t := reflect.TypeOf(sample)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotStruct, name)
	}

	b := &entityBuilder{identity: "ID", version: "Version"}
	for _, opt := range opts {
		opt(b)
	}

	e := &PersistentEntity{
		Name:    name,
		Type:    t,
		Mapping: MappedForm{Stateless: b.stateless, Collection: b.collection},
		byName:  make(map[string]int),
	}

	foundIdentity := false
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		pname := propertyName(f)
		if pname == "-" {
			continue
		}
		p := Property{Field: f.Name, Name: pname, Type: f.Type, index: f.Index}

		if a, ok := b.associations[f.Name]; ok {
			a.Property = p
			e.Associations = append(e.Associations, a)
			continue
		}
		if f.Name == b.identity {
			e.Identity = p
			foundIdentity = true
		}
		if f.Name == b.version {
			v := p
			e.Version = &v
		}
		e.byName[p.Name] = len(e.Properties)
		e.Properties = append(e.Properties, p)
	}
	if !foundIdentity {
		return nil, fmt.Errorf("%w: %s (field %q)", ErrNoIdentity, name, b.identity)
	}

	if b.parent != nil {
		e.parent = b.parent
		b.parent.children = append(b.parent.children, e)
	}
	return e, nil
}

func propertyName(f reflect.StructField) string {
	tag := f.Tag.Get(TagName)
	if tag == "" {
		return f.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

// IsStateless reports whether the mapping marks this entity stateless.
func (e *PersistentEntity) IsStateless() bool {
	return e != nil && e.Mapping.Stateless
}

// IsVersioned reports whether the entity declares a version property.
func (e *PersistentEntity) IsVersioned() bool { return e.Version != nil }

// Parent returns the inheritance parent, or nil for a root entity.
func (e *PersistentEntity) Parent() *PersistentEntity { return e.parent }

// Children returns the direct inheritance children.
func (e *PersistentEntity) Children() []*PersistentEntity { return e.children }

// IsRoot reports whether the entity has no inheritance parent.
func (e *PersistentEntity) IsRoot() bool { return e.parent == nil }

// Root walks the parent chain to the inheritance root.
func (e *PersistentEntity) Root() *PersistentEntity {
	r := e
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// CollectionName returns the storage collection for the entity. Entities in
// an inheritance hierarchy share the root's collection.
func (e *PersistentEntity) CollectionName() string {
	root := e.Root()
	if root.Mapping.Collection != "" {
		return root.Mapping.Collection
	}
	return root.Name
}

// PropertyByName looks up a mapped (non-association) property by entry name.
func (e *PersistentEntity) PropertyByName(name string) (Property, bool) {
	i, ok := e.byName[name]
	if !ok {
		return Property{}, false
	}
	return e.Properties[i], true
}

// AssociationByName looks up an association by entry name.
func (e *PersistentEntity) AssociationByName(name string) (Association, bool) {
	for _, a := range e.Associations {
		if a.Name == name || a.Field == name {
			return a, true
		}
	}
	return Association{}, false
}

// NewInstance allocates a new zero instance and returns a pointer to it.
func (e *PersistentEntity) NewInstance() any {
	return reflect.New(e.Type).Interface()
}

// String implements fmt.Stringer.
func (e *PersistentEntity) String() string { return e.Name }
