package primitive

import (
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is an EDM primitive kind as carried on the wire.
type Kind int

const (
	_ Kind = iota // zero value is an invalid kind

	KindBoolean
	KindByte
	KindSByte
	KindInt16
	KindInt32
	KindInt64
	KindSingle
	KindDouble
	KindDecimal
	KindString
	KindGuid
	KindBinary
	KindDateTimeOffset
	KindDate
	KindTimeOfDay
	KindDuration

	// KindTotal is the number of kinds defined above plus the invalid zero.
	KindTotal = int(iota)
)

var kindNames = [KindTotal]string{
	KindBoolean:        "Edm.Boolean",
	KindByte:           "Edm.Byte",
	KindSByte:          "Edm.SByte",
	KindInt16:          "Edm.Int16",
	KindInt32:          "Edm.Int32",
	KindInt64:          "Edm.Int64",
	KindSingle:         "Edm.Single",
	KindDouble:         "Edm.Double",
	KindDecimal:        "Edm.Decimal",
	KindString:         "Edm.String",
	KindGuid:           "Edm.Guid",
	KindBinary:         "Edm.Binary",
	KindDateTimeOffset: "Edm.DateTimeOffset",
	KindDate:           "Edm.Date",
	KindTimeOfDay:      "Edm.TimeOfDay",
	KindDuration:       "Edm.Duration",
}

var kindTypes = [KindTotal]reflect.Type{
	KindBoolean:        reflect.TypeOf(false),
	KindByte:           reflect.TypeOf(uint8(0)),
	KindSByte:          reflect.TypeOf(int8(0)),
	KindInt16:          reflect.TypeOf(int16(0)),
	KindInt32:          reflect.TypeOf(int32(0)),
	KindInt64:          reflect.TypeOf(int64(0)),
	KindSingle:         reflect.TypeOf(float32(0)),
	KindDouble:         reflect.TypeOf(float64(0)),
	KindDecimal:        reflect.TypeOf(float64(0)),
	KindString:         reflect.TypeOf(""),
	KindGuid:           reflect.TypeOf(uuid.UUID{}),
	KindBinary:         reflect.TypeOf([]byte(nil)),
	KindDateTimeOffset: reflect.TypeOf(time.Time{}),
	KindDate:           reflect.TypeOf(Date{}),
	KindTimeOfDay:      reflect.TypeOf(TimeOfDay{}),
	KindDuration:       reflect.TypeOf(time.Duration(0)),
}

// String returns the qualified EDM name of the kind, e.g. "Edm.Int32".
func (k Kind) String() string {
	if k <= 0 || int(k) >= KindTotal {
		return "Edm.Unknown"
	}
	return kindNames[k]
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k > 0 && int(k) < KindTotal
}

// Type returns the natural Go representation of values of this kind.
func (k Kind) Type() reflect.Type {
	if !k.Valid() {
		return nil
	}
	return kindTypes[k]
}

// Keyable reports whether properties of this kind may participate in an
// entity key.
func (k Kind) Keyable() bool {
	switch k {
	case KindBinary, KindSingle, KindDouble:
		return false
	default:
		return k.Valid()
	}
}

func (k Kind) IsSignedInteger() bool {
	switch k {
	case KindSByte, KindInt16, KindInt32, KindInt64:
		return true
	default:
		return false
	}
}

// ParseKind resolves a kind by its EDM name. The "Edm." qualifier is optional
// and matching is case-insensitive.
func ParseKind(name string) (Kind, bool) {
	if !strings.HasPrefix(strings.ToLower(name), "edm.") {
		name = "Edm." + name
	}
	for k := 1; k < KindTotal; k++ {
		if strings.EqualFold(kindNames[k], name) {
			return Kind(k), true
		}
	}
	return 0, false
}

// KindOf classifies a decoded wire value. Go int is treated as Edm.Int64.
// Decimal values share float64 with Edm.Double and classify as Double.
func KindOf(v any) (Kind, bool) {
	switch v.(type) {
	case bool:
		return KindBoolean, true
	case uint8:
		return KindByte, true
	case int8:
		return KindSByte, true
	case int16:
		return KindInt16, true
	case int32:
		return KindInt32, true
	case int64, int:
		return KindInt64, true
	case float32:
		return KindSingle, true
	case float64:
		return KindDouble, true
	case string:
		return KindString, true
	case uuid.UUID:
		return KindGuid, true
	case []byte:
		return KindBinary, true
	case time.Time:
		return KindDateTimeOffset, true
	case Date:
		return KindDate, true
	case TimeOfDay:
		return KindTimeOfDay, true
	case time.Duration:
		return KindDuration, true
	default:
		return 0, false
	}
}

// describe names a wire value for error messages: its EDM kind when it has
// one, its Go type otherwise.
func describe(v any) string {
	if k, ok := KindOf(v); ok {
		return k.String()
	}
	if v == nil {
		return "null"
	}
	return reflect.TypeOf(v).String()
}
