package mapping

import (
	"encoding"
	"fmt"
	"reflect"
	"sync"

	"github.com/spf13/cast"
)

// Converter converts a value to a specific target type.
type Converter func(value any) (any, error)

// ConversionService converts identifier and property values between types.
// Scalars go through spf13/cast; types implementing encoding.TextUnmarshaler
// accept strings; custom converters take precedence.
type ConversionService struct {
	mu         sync.RWMutex
	converters map[reflect.Type]Converter
}

// NewConversionService creates a conversion service with no custom converters.
func NewConversionService() *ConversionService {
	return &ConversionService{converters: make(map[reflect.Type]Converter)}
}

// AddConverter registers a converter for target.
func (c *ConversionService) AddConverter(target reflect.Type, fn Converter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.converters[target] = fn
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

// Convert converts value to target. A nil value converts to nil.
func (c *ConversionService) Convert(value any, target reflect.Type) (any, error) {
	if value == nil || target == nil {
		return value, nil
	}
	vt := reflect.TypeOf(value)
	if vt == target {
		return value, nil
	}

	c.mu.RLock()
	fn, ok := c.converters[target]
	c.mu.RUnlock()
	if ok {
		return fn(value)
	}

	if reflect.PointerTo(target).Implements(textUnmarshalerType) {
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("mapping: convert %T to %s: %w", value, target, err)
		}
		ptr := reflect.New(target)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("mapping: convert %T to %s: %w", value, target, err)
		}
		return ptr.Elem().Interface(), nil
	}

	var (
		out any
		err error
	)
	switch target.Kind() {
	case reflect.String:
		out, err = cast.ToStringE(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if n, err = cast.ToInt64E(value); err == nil && reflect.Zero(target).OverflowInt(n) {
			err = fmt.Errorf("%w: %d", ErrOverflow, n)
		}
		out = n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		if n, err = cast.ToUint64E(value); err == nil && reflect.Zero(target).OverflowUint(n) {
			err = fmt.Errorf("%w: %d", ErrOverflow, n)
		}
		out = n
	case reflect.Float32, reflect.Float64:
		var f float64
		if f, err = cast.ToFloat64E(value); err == nil && reflect.Zero(target).OverflowFloat(f) {
			err = fmt.Errorf("%w: %g", ErrOverflow, f)
		}
		out = f
	case reflect.Bool:
		out, err = cast.ToBoolE(value)
	default:
		if vt.ConvertibleTo(target) {
			return reflect.ValueOf(value).Convert(target).Interface(), nil
		}
		return nil, fmt.Errorf("mapping: no conversion from %T to %s", value, target)
	}
	if err != nil {
		return nil, fmt.Errorf("mapping: convert %T to %s: %w", value, target, err)
	}
	return reflect.ValueOf(out).Convert(target).Interface(), nil
}

// ToString renders a key as the string form backends store it under.
func (c *ConversionService) ToString(value any) (string, error) {
	if m, ok := value.(encoding.TextMarshaler); ok {
		b, err := m.MarshalText()
		if err != nil {
			return "", fmt.Errorf("mapping: key to string: %w", err)
		}
		return string(b), nil
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", fmt.Errorf("mapping: key to string: %w", err)
	}
	return s, nil
}
