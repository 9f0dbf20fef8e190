package primitive

import (
	"math"
	"reflect"
	"time"

	"github.com/beevik/etree"
)

// ToWire maps a host value onto the natural representation of a protocol
// primitive kind. It is the inverse of Convert for the host types Convert
// produces; any other value is returned unchanged. Nil and nil pointers map
// to nil.
func ToWire(value any, loc *time.Location) (any, error) {
	if el, ok := value.(*etree.Element); ok {
		if el == nil {
			return nil, nil
		}
		doc := etree.NewDocument()
		doc.SetRoot(el.Copy())
		s, err := doc.WriteToString()
		if err != nil {
			return nil, &ValidationError{
				Constraint: ConstraintXML,
				Value:      value,
				Message:    "The XML element could not be written",
				Err:        err,
			}
		}
		return s, nil
	}

	value = indirect(value)
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case Char:
		return string(rune(v)), nil
	case []rune:
		return string(v), nil
	case LocalDateTime:
		if loc == nil {
			loc = time.Local
		}
		return v.In(loc), nil
	case string, time.Time, time.Duration:
		return v, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Uint16:
		return int32(rv.Uint()), nil
	case reflect.Uint32:
		return int64(rv.Uint()), nil
	case reflect.Uint64:
		n := rv.Uint()
		if n > math.MaxInt64 {
			return nil, invalid(ConstraintRange, value, rv.Type(),
				"The value %d is out of range for Edm.Int64.", n)
		}
		return int64(n), nil
	case reflect.String:
		return rv.String(), nil
	}
	return value, nil
}
