package datastore

import (
	"reflect"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
)

// DirtyCheckable is implemented by entities that track their own changes.
type DirtyCheckable interface {
	HasChanged() bool
}

// DirtyPropertyReporter is implemented by entities that can name the
// properties they changed.
type DirtyPropertyReporter interface {
	DirtyPropertyNames() []string
}

// DirtyMarker is implemented by entities that accept being marked dirty from
// outside, for instance when one of their collections changed.
type DirtyMarker interface {
	MarkDirty(property string)
}

// PersistentCollection is an association collection that tracks changes.
// Dirty collections found in the collection cache at flush time mark their
// owner dirty.
type PersistentCollection interface {
	IsDirty() bool
	ResetDirty()
}

// DirtyStrategy is how a session decides whether an instance changed.
type DirtyStrategy int

const (
	// DirtyUnsupported means the session cannot tell; IsDirty reports false.
	DirtyUnsupported DirtyStrategy = iota
	// DirtySelfReporting defers to the instance's DirtyCheckable implementation.
	DirtySelfReporting
	// DirtyNativeEntry diffs the instance against its cached native entry.
	DirtyNativeEntry
)

// String implements fmt.Stringer.
func (d DirtyStrategy) String() string {
	switch d {
	case DirtySelfReporting:
		return "self-reporting"
	case DirtyNativeEntry:
		return "native-entry"
	default:
		return "unsupported"
	}
}

func dirtyStrategy(instance any, p persister.Persister) DirtyStrategy {
	if _, ok := instance.(DirtyCheckable); ok {
		return DirtySelfReporting
	}
	if _, ok := p.(persister.NativeEntryPersister); ok {
		return DirtyNativeEntry
	}
	return DirtyUnsupported
}

// DirtyStrategy returns the strategy IsDirty uses for instance.
func (s *Session) DirtyStrategy(instance any) DirtyStrategy {
	p, err := s.persisterFor(instance)
	if err != nil {
		return DirtyUnsupported
	}
	return dirtyStrategy(instance, p)
}

// IsDirty reports whether instance differs from its last known persisted
// state. Unpersisted and unmapped instances are never dirty.
func (s *Session) IsDirty(instance any) bool {
	return s.isDirty(instance, make(map[any]struct{}))
}

func (s *Session) isDirty(instance any, seen map[any]struct{}) bool {
	if instance == nil || s.checkOpen() != nil {
		return false
	}
	if trackable(instance) {
		if _, ok := seen[instance]; ok {
			return false
		}
		seen[instance] = struct{}{}
	}
	p, err := s.persisterFor(instance)
	if err != nil {
		return false
	}

	switch dirtyStrategy(instance, p) {
	case DirtySelfReporting:
		return instance.(DirtyCheckable).HasChanged() || s.associationsDirty(p.Entity(), instance, seen)
	case DirtyNativeEntry:
		key := p.ObjectIdentifier(instance)
		if key == nil {
			return false
		}
		e := p.Entity()
		if cached := s.CachedInstance(e, key); cached != nil && !sameInstance(cached, instance) {
			return true
		}
		entry := s.CachedEntry(e, key, true)
		return p.(persister.NativeEntryPersister).IsDirty(instance, entry)
	default:
		return false
	}
}

// associationsDirty reports whether any associated instance, or any element
// of an associated collection, is itself dirty.
func (s *Session) associationsDirty(e *mapping.PersistentEntity, instance any, seen map[any]struct{}) bool {
	if len(e.Associations) == 0 {
		return false
	}
	acc, err := s.mapping.CreateEntityAccess(e, instance)
	if err != nil {
		return false
	}
	for _, a := range e.Associations {
		v, err := acc.PropertyValue(a.Name)
		if err != nil || v == nil {
			continue
		}
		if pc, ok := v.(PersistentCollection); ok && pc.IsDirty() {
			return true
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := range rv.Len() {
				if s.isDirty(rv.Index(i).Interface(), seen) {
					return true
				}
			}
		case reflect.Map:
			iter := rv.MapRange()
			for iter.Next() {
				if s.isDirty(iter.Value().Interface(), seen) {
					return true
				}
			}
		case reflect.Pointer:
			if !rv.IsNil() && s.isDirty(v, seen) {
				return true
			}
		}
	}
	return false
}

// DirtyPropertyNames returns the names of the properties that changed, in
// mapping order.
func (s *Session) DirtyPropertyNames(instance any) []string {
	if r, ok := instance.(DirtyPropertyReporter); ok {
		return r.DirtyPropertyNames()
	}
	p, err := s.persisterFor(instance)
	if err != nil {
		return nil
	}
	key := p.ObjectIdentifier(instance)
	if key == nil {
		return nil
	}
	e := p.Entity()
	baseline := s.CachedEntry(e, key, true)
	if baseline == nil {
		return nil
	}
	acc, err := s.mapping.CreateEntityAccess(e, instance)
	if err != nil {
		return nil
	}
	current, err := acc.ToEntry()
	if err != nil {
		return nil
	}
	var names []string
	for _, prop := range e.Properties {
		if !reflect.DeepEqual(current[prop.Name], baseline[prop.Name]) {
			names = append(names, prop.Name)
		}
	}
	return names
}

// handleDirtyCollections marks the owners of dirty cached collections and
// resets the collections.
func (s *Session) handleDirtyCollections() {
	s.cache.eachCollection(func(k collectionKey, coll any) {
		pc, ok := coll.(PersistentCollection)
		if !ok || !pc.IsDirty() {
			return
		}
		if owner, ok := s.cache.getInstance(k.entity, k.key).(DirtyMarker); ok {
			owner.MarkDirty(k.collection)
		}
		pc.ResetDirty()
	})
}
