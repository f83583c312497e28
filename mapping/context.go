package mapping

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Context is the shared registry of persistent entities. It is safe for
// concurrent use; entities are immutable once registered.
type Context struct {
	mu         sync.RWMutex
	entities   map[string]*PersistentEntity
	byType     map[reflect.Type]*PersistentEntity
	conversion *ConversionService
}

// NewContext creates an empty mapping context.
func NewContext() *Context {
	return &Context{
		entities:   make(map[string]*PersistentEntity),
		byType:     make(map[reflect.Type]*PersistentEntity),
		conversion: NewConversionService(),
	}
}

// AddEntity registers entity metadata.
func (c *Context) AddEntity(e *PersistentEntity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entities[e.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntity, e.Name)
	}
	c.entities[e.Name] = e
	c.byType[e.Type] = e
	return nil
}

// Register builds and registers an entity from a sample value.
func (c *Context) Register(name string, sample any, opts ...EntityOption) (*PersistentEntity, error) {
	e, err := NewEntity(name, sample, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.AddEntity(e); err != nil {
		return nil, err
	}
	return e, nil
}

// MustRegister is like Register but panics on error.
func (c *Context) MustRegister(name string, sample any, opts ...EntityOption) *PersistentEntity {
	e, err := c.Register(name, sample, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// PersistentEntity returns the entity registered under name, or nil.
func (c *Context) PersistentEntity(name string) *PersistentEntity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entities[name]
}

// EntityForType returns the entity mapped to t (pointer types are
// dereferenced), or nil.
func (c *Context) EntityForType(t reflect.Type) *PersistentEntity {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byType[t]
}

// EntityFor returns the entity for the runtime type of instance, or nil.
func (c *Context) EntityFor(instance any) *PersistentEntity {
	if instance == nil {
		return nil
	}
	return c.EntityForType(reflect.TypeOf(instance))
}

// Entities returns all registered entities sorted by name.
func (c *Context) Entities() []*PersistentEntity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*PersistentEntity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConversionService returns the context's conversion service.
func (c *Context) ConversionService() *ConversionService { return c.conversion }

// CreateEntityAccess wraps instance for reading and writing mapped state.
func (c *Context) CreateEntityAccess(e *PersistentEntity, instance any) (*EntityAccess, error) {
	return newEntityAccess(e, instance, c.conversion)
}
