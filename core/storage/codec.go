package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/odatagate/core/primitive"
)

// Normalize converts a wire value, or its JSON rendering, to the natural
// wire value of kind.
func Normalize(kind primitive.Kind, v any) (any, error) {
	col, err := toColumn(kind, v)
	if err != nil {
		return nil, err
	}
	return fromColumn(kind, col)
}

// toColumn converts a wire value, or its JSON rendering, to the value stored
// for kind. Integer kinds accept any integral number; string-encoded kinds
// accept their canonical text.
func toColumn(kind primitive.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if n, ok := v.(json.Number); ok {
		v = n.String()
		if i, err := n.Int64(); err == nil {
			v = i
		} else if f, err := n.Float64(); err == nil {
			v = f
		}
	}

	switch kind {
	case primitive.KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(kind, v)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil

	case primitive.KindByte, primitive.KindSByte, primitive.KindInt16,
		primitive.KindInt32, primitive.KindInt64:
		n, ok := integral(v)
		if !ok {
			return nil, mismatch(kind, v)
		}
		if _, err := fromColumn(kind, n); err != nil {
			return nil, err
		}
		return n, nil

	case primitive.KindSingle, primitive.KindDouble, primitive.KindDecimal:
		rv := reflect.ValueOf(v)
		switch {
		case rv.CanFloat():
			return rv.Float(), nil
		case rv.CanInt():
			return float64(rv.Int()), nil
		case rv.CanUint():
			return float64(rv.Uint()), nil
		}
		return nil, mismatch(kind, v)

	case primitive.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(kind, v)
		}
		return s, nil

	case primitive.KindGuid:
		switch val := v.(type) {
		case uuid.UUID:
			return val.String(), nil
		case string:
			id, err := uuid.Parse(val)
			if err != nil {
				return nil, malformed(kind, v, err)
			}
			return id.String(), nil
		}

	case primitive.KindBinary:
		switch val := v.(type) {
		case []byte:
			return val, nil
		case string:
			b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(val, "="))
			if err != nil {
				return nil, malformed(kind, v, err)
			}
			return b, nil
		}

	case primitive.KindDateTimeOffset:
		switch val := v.(type) {
		case time.Time:
			return val.UTC().Format(time.RFC3339Nano), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, val)
			if err != nil {
				return nil, malformed(kind, v, err)
			}
			return t.UTC().Format(time.RFC3339Nano), nil
		}

	case primitive.KindDate:
		switch val := v.(type) {
		case primitive.Date:
			return val.String(), nil
		case string:
			d, err := primitive.ParseDate(val)
			if err != nil {
				return nil, malformed(kind, v, err)
			}
			return d.String(), nil
		}

	case primitive.KindTimeOfDay:
		switch val := v.(type) {
		case primitive.TimeOfDay:
			return val.String(), nil
		case string:
			t, err := primitive.ParseTimeOfDay(val)
			if err != nil {
				return nil, malformed(kind, v, err)
			}
			return t.String(), nil
		}

	case primitive.KindDuration:
		switch val := v.(type) {
		case time.Duration:
			return primitive.FormatDuration(val), nil
		case string:
			d, err := primitive.ParseDuration(val)
			if err != nil {
				return nil, malformed(kind, v, err)
			}
			return primitive.FormatDuration(d), nil
		}
	}
	return nil, mismatch(kind, v)
}

// fromColumn converts a scanned column value to the wire value of kind.
func fromColumn(kind primitive.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok && kind != primitive.KindBinary {
		v = string(b)
	}

	switch kind {
	case primitive.KindBoolean:
		n, ok := v.(int64)
		if !ok {
			return nil, mismatch(kind, v)
		}
		return n != 0, nil
	case primitive.KindByte:
		n, ok := v.(int64)
		if !ok || n < 0 || n > math.MaxUint8 {
			return nil, outOfRange(kind, v)
		}
		return uint8(n), nil
	case primitive.KindSByte:
		n, ok := v.(int64)
		if !ok || n < math.MinInt8 || n > math.MaxInt8 {
			return nil, outOfRange(kind, v)
		}
		return int8(n), nil
	case primitive.KindInt16:
		n, ok := v.(int64)
		if !ok || n < math.MinInt16 || n > math.MaxInt16 {
			return nil, outOfRange(kind, v)
		}
		return int16(n), nil
	case primitive.KindInt32:
		n, ok := v.(int64)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, outOfRange(kind, v)
		}
		return int32(n), nil
	case primitive.KindInt64:
		n, ok := v.(int64)
		if !ok {
			return nil, mismatch(kind, v)
		}
		return n, nil
	case primitive.KindSingle, primitive.KindDouble, primitive.KindDecimal:
		var f float64
		switch val := v.(type) {
		case float64:
			f = val
		case int64:
			f = float64(val)
		default:
			return nil, mismatch(kind, v)
		}
		if kind == primitive.KindSingle {
			return float32(f), nil
		}
		return f, nil
	case primitive.KindBinary:
		b, ok := v.([]byte)
		if !ok {
			return nil, mismatch(kind, v)
		}
		return b, nil
	}

	s, ok := v.(string)
	if !ok {
		return nil, mismatch(kind, v)
	}
	switch kind {
	case primitive.KindString:
		return s, nil
	case primitive.KindGuid:
		return uuid.Parse(s)
	case primitive.KindDateTimeOffset:
		return time.Parse(time.RFC3339Nano, s)
	case primitive.KindDate:
		return primitive.ParseDate(s)
	case primitive.KindTimeOfDay:
		return primitive.ParseTimeOfDay(s)
	case primitive.KindDuration:
		return primitive.ParseDuration(s)
	}
	return nil, mismatch(kind, v)
}

// integral returns v as int64 when it is a whole number.
func integral(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int(), true
	case rv.CanUint():
		u := rv.Uint()
		return int64(u), u <= math.MaxInt64
	case rv.CanFloat():
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

func mismatch(kind primitive.Kind, v any) error {
	return &primitive.ValidationError{
		Constraint: primitive.ConstraintType,
		Value:      v,
		Target:     kind.Type(),
		Message:    fmt.Sprintf("The value %v is not a valid %s.", v, kind),
	}
}

func malformed(kind primitive.Kind, v any, err error) error {
	return &primitive.ValidationError{
		Constraint: primitive.ConstraintType,
		Value:      v,
		Target:     kind.Type(),
		Message:    fmt.Sprintf("The value %q is not a valid %s", v, kind),
		Err:        err,
	}
}

func outOfRange(kind primitive.Kind, v any) error {
	return &primitive.ValidationError{
		Constraint: primitive.ConstraintRange,
		Value:      v,
		Target:     kind.Type(),
		Message:    fmt.Sprintf("The value %v is out of range for %s.", v, kind),
	}
}
