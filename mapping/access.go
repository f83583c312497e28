package mapping

import (
	"fmt"
	"maps"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// Entry is the native, backend-neutral shape of an entity: mapped property
// names to values. Associations are never part of an entry.
type Entry map[string]any

// Clone returns a shallow copy of the entry.
func (e Entry) Clone() Entry {
	if e == nil {
		return nil
	}
	return maps.Clone(e)
}

// EntityAccess reads and writes the mapped state of one instance.
type EntityAccess struct {
	entity     *PersistentEntity
	instance   any
	value      reflect.Value
	conversion *ConversionService
}

func newEntityAccess(e *PersistentEntity, instance any, conv *ConversionService) (*EntityAccess, error) {
	if e == nil || instance == nil {
		return nil, fmt.Errorf("mapping: entity access requires an entity and an instance")
	}
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("mapping: %s instance must be a non-nil pointer, got %T", e.Name, instance)
	}
	v = v.Elem()
	if v.Type() != e.Type {
		return nil, fmt.Errorf("mapping: instance of %T is not a %s", instance, e.Name)
	}
	return &EntityAccess{entity: e, instance: instance, value: v, conversion: conv}, nil
}

// Entity returns the entity metadata.
func (a *EntityAccess) Entity() *PersistentEntity { return a.entity }

// Instance returns the wrapped instance.
func (a *EntityAccess) Instance() any { return a.instance }

// Identifier returns the identity value, or nil while it is the zero value.
func (a *EntityAccess) Identifier() any {
	f := a.value.FieldByIndex(a.entity.Identity.index)
	if f.IsZero() {
		return nil
	}
	return f.Interface()
}

// SetIdentifier converts v to the identity type and assigns it.
func (a *EntityAccess) SetIdentifier(v any) error {
	return a.set(a.entity.Identity, v)
}

// Version returns the version value, or nil for unversioned entities.
func (a *EntityAccess) Version() any {
	if a.entity.Version == nil {
		return nil
	}
	return a.value.FieldByIndex(a.entity.Version.index).Interface()
}

// IncrementVersion bumps a numeric version property by one. It is a no-op
// for unversioned entities.
func (a *EntityAccess) IncrementVersion() error {
	if a.entity.Version == nil {
		return nil
	}
	f := a.value.FieldByIndex(a.entity.Version.index)
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f.SetInt(f.Int() + 1)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f.SetUint(f.Uint() + 1)
	default:
		return fmt.Errorf("mapping: %s version property %s is not numeric", a.entity.Name, a.entity.Version.Field)
	}
	return nil
}

// PropertyValue returns the value of a property or association by name.
func (a *EntityAccess) PropertyValue(name string) (any, error) {
	if p, ok := a.entity.PropertyByName(name); ok {
		return a.value.FieldByIndex(p.index).Interface(), nil
	}
	if as, ok := a.entity.AssociationByName(name); ok {
		return a.value.FieldByIndex(as.index).Interface(), nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, a.entity.Name, name)
}

// SetProperty converts v to the property type and assigns it.
func (a *EntityAccess) SetProperty(name string, v any) error {
	p, ok := a.entity.PropertyByName(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, a.entity.Name, name)
	}
	return a.set(p, v)
}

func (a *EntityAccess) set(p Property, v any) error {
	f := a.value.FieldByIndex(p.index)
	if v == nil {
		f.SetZero()
		return nil
	}
	converted, err := a.conversion.Convert(v, p.Type)
	if err != nil {
		return fmt.Errorf("mapping: set %s.%s: %w", a.entity.Name, p.Field, err)
	}
	f.Set(reflect.ValueOf(converted))
	return nil
}

// ToEntry snapshots the mapped properties into a native entry.
func (a *EntityAccess) ToEntry() (Entry, error) {
	entry := make(Entry, len(a.entity.Properties))
	for _, p := range a.entity.Properties {
		entry[p.Name] = a.value.FieldByIndex(p.index).Interface()
	}
	return entry, nil
}

// FromEntry writes entry values onto the instance. Values are weakly typed
// so entries decoded from JSON or BSON round-trip.
func (a *EntityAccess) FromEntry(entry Entry) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          TagName,
		WeaklyTypedInput: true,
		Result:           a.instance,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05.999999999Z07:00"),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("mapping: %s from entry: %w", a.entity.Name, err)
	}
	filtered := make(map[string]any, len(entry))
	for k, v := range entry {
		if _, ok := a.entity.PropertyByName(k); ok {
			filtered[k] = v
		}
	}
	if err := dec.Decode(filtered); err != nil {
		return fmt.Errorf("mapping: %s from entry: %w", a.entity.Name, err)
	}
	return nil
}
