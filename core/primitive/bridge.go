package primitive

import (
	"reflect"
	"time"

	"github.com/beevik/etree"
)

var (
	charType          = reflect.TypeOf(Char(0))
	optionalCharType  = reflect.PointerTo(charType)
	runesType         = reflect.TypeOf([]rune(nil))
	elementType       = reflect.TypeOf((*etree.Element)(nil))
	localDateTimeType = reflect.TypeOf(LocalDateTime{})
)

// Convert converts a decoded wire value to the requested host type.
//
// Rules are applied in order: single characters, character sequences,
// unsigned integers, XML elements, naive date/times, then pass-through of
// values already in the target's representation. loc only participates in
// the date/time rule; nil means the process's local zone.
//
// Convert panics with *ArgumentError when target is nil.
func Convert(value any, target reflect.Type, loc *time.Location) (any, error) {
	if target == nil {
		panic(&ArgumentError{Name: "target"})
	}

	value = indirect(value)
	if value == nil {
		return convertNull(target)
	}

	switch target {
	case charType:
		return toChar(value)
	case optionalCharType:
		return toOptionalChar(value)
	case runesType:
		s, ok := value.(string)
		if !ok {
			return nil, invalid(ConstraintType, value, target, "The value must be a string.")
		}
		return []rune(s), nil
	case elementType:
		return toElement(value)
	}

	base, optional := target, false
	if target.Kind() == reflect.Pointer {
		base, optional = target.Elem(), true
	}

	if isUnsignedTarget(base) && isSignedInteger(value) {
		v, err := toUnsigned(value, base)
		if err != nil {
			return nil, err
		}
		return wrap(v, optional), nil
	}

	if base == localDateTimeType {
		if t, ok := value.(time.Time); ok {
			if loc == nil {
				loc = time.Local
			}
			return wrap(reflect.ValueOf(LocalDateTimeOf(t.In(loc))), optional), nil
		}
	}

	return passThrough(value, target, base, optional)
}

// indirect dereferences pointer wire values; a nil pointer becomes nil.
func indirect(value any) any {
	if value == nil {
		return nil
	}
	if _, ok := value.(*etree.Element); ok {
		return value
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func convertNull(target reflect.Type) (any, error) {
	switch target.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return reflect.Zero(target).Interface(), nil
	default:
		return nil, invalid(ConstraintNull, nil, target, "The value must not be null for %s.", target)
	}
}

func toChar(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, invalid(ConstraintLength, value, charType, "The value must be a string with a length of 1.")
	}
	runes := []rune(s)
	if len(runes) != 1 {
		return nil, invalid(ConstraintLength, value, charType, "The value must be a string with a length of 1.")
	}
	return Char(runes[0]), nil
}

func toOptionalChar(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, invalid(ConstraintMaxLength, value, optionalCharType, "The value must be a string with a maximum length of 1.")
	}
	runes := []rune(s)
	switch len(runes) {
	case 0:
		return (*Char)(nil), nil
	case 1:
		c := Char(runes[0])
		return &c, nil
	default:
		return nil, invalid(ConstraintMaxLength, value, optionalCharType, "The value must be a string with a maximum length of 1.")
	}
}

func toElement(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, invalid(ConstraintType, value, elementType, "The value must be a string.")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		verr := invalid(ConstraintXML, value, elementType, "The value must be a well-formed XML element")
		verr.Err = err
		return nil, verr
	}
	if len(doc.ChildElements()) != 1 {
		return nil, invalid(ConstraintXML, value, elementType, "The value must contain exactly one XML element.")
	}
	return doc.Root(), nil
}

func isUnsignedTarget(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}

func isSignedInteger(value any) bool {
	switch reflect.ValueOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}

func toUnsigned(value any, target reflect.Type) (reflect.Value, error) {
	n := reflect.ValueOf(value).Int()
	out := reflect.New(target).Elem()
	if n < 0 || out.OverflowUint(uint64(n)) {
		return reflect.Value{}, invalid(ConstraintRange, value, target,
			"The value %d is out of range for %s.", n, target)
	}
	out.SetUint(uint64(n))
	return out, nil
}

func passThrough(value any, target, base reflect.Type, optional bool) (any, error) {
	vt := reflect.TypeOf(value)
	if vt == target {
		return value, nil
	}
	if optional && vt == base {
		return wrap(reflect.ValueOf(value), true), nil
	}
	// Enum members arrive as strings and map onto named string host types.
	if vt.Kind() == reflect.String && base.Kind() == reflect.String {
		return wrap(reflect.ValueOf(value).Convert(base), optional), nil
	}
	return nil, invalid(ConstraintType, value, target,
		"Conversion from %s to %s is not supported.", describe(value), target)
}

// wrap returns v as an interface, boxed behind a pointer when the target is
// the optional form.
func wrap(v reflect.Value, optional bool) any {
	if !optional {
		return v.Interface()
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p.Interface()
}
