package primitive

import (
	"errors"
	"reflect"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func ptr[T any](v T) *T {
	return &v
}

func TestConvert_NonStandardPrimitives(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		target reflect.Type
		want   any
	}{
		{"char", "1", typeOf[Char](), Char('1')},
		{"optional char", "1", typeOf[*Char](), ptr(Char('1'))},
		{"char sequence", "123", typeOf[[]rune](), []rune{'1', '2', '3'}},
		{"int to uint16", int32(1), typeOf[uint16](), uint16(1)},
		{"int to optional uint16", int32(1), typeOf[*uint16](), ptr(uint16(1))},
		{"int64 to uint32", int64(1), typeOf[uint32](), uint32(1)},
		{"int64 to optional uint32", int64(1), typeOf[*uint32](), ptr(uint32(1))},
		{"int64 to uint64", int64(1), typeOf[uint64](), uint64(1)},
		{"int64 to optional uint64", int64(1), typeOf[*uint64](), ptr(uint64(1))},
		{"pointer wire value", ptr(int64(1)), typeOf[uint64](), uint64(1)},
		{"string passes through", "abc", typeOf[string](), "abc"},
		{"int32 passes through", int32(5), typeOf[int32](), int32(5)},
		{"optional int32", int32(5), typeOf[*int32](), ptr(int32(5))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.value, tt.target, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.target, reflect.TypeOf(got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvert_CharLength(t *testing.T) {
	for _, input := range []string{"123", ""} {
		_, err := Convert(input, typeOf[Char](), nil)
		require.Error(t, err, "input %q", input)
		assert.EqualError(t, err, "The value must be a string with a length of 1.")

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, ConstraintLength, verr.Constraint)
	}
}

func TestConvert_OptionalCharMaxLength(t *testing.T) {
	_, err := Convert("123", typeOf[*Char](), nil)
	assert.EqualError(t, err, "The value must be a string with a maximum length of 1.")
	assert.True(t, errors.Is(err, ErrValidation))

	got, err := Convert("", typeOf[*Char](), nil)
	require.NoError(t, err)
	assert.Nil(t, got.(*Char))
}

func TestConvert_CharSequenceHasNoLengthLimit(t *testing.T) {
	got, err := Convert("", typeOf[[]rune](), nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Convert("héllo", typeOf[[]rune](), nil)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestConvert_UnsignedRange(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		target reflect.Type
	}{
		{"negative to uint16", int32(-1), typeOf[uint16]()},
		{"negative to uint64", int64(-1), typeOf[uint64]()},
		{"overflow uint16", int32(70000), typeOf[uint16]()},
		{"overflow uint32", int64(1) << 40, typeOf[uint32]()},
		{"overflow optional uint16", int64(1) << 20, typeOf[*uint16]()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Convert(tt.value, tt.target, nil)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "err = %v", err)
			assert.Equal(t, ConstraintRange, verr.Constraint)
		})
	}

	got, err := Convert(int32(65535), typeOf[uint16](), nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), got)
}

func TestConvert_XElement(t *testing.T) {
	got, err := Convert(`<element xmlns="namespace" />`, typeOf[*etree.Element](), nil)
	require.NoError(t, err)

	el, ok := got.(*etree.Element)
	require.True(t, ok)
	assert.Equal(t, "element", el.Tag)
	assert.Equal(t, "namespace", el.NamespaceURI())
}

func TestConvert_XElement_NotString(t *testing.T) {
	_, err := Convert(int32(123), typeOf[*etree.Element](), nil)
	assert.EqualError(t, err, "The value must be a string.")
}

func TestConvert_XElement_Malformed(t *testing.T) {
	_, err := Convert("not xml", typeOf[*etree.Element](), nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ConstraintXML, verr.Constraint)
}

func sameInstants(t *testing.T) []time.Time {
	t.Helper()
	var out []time.Time
	for _, s := range []string{
		"2014-12-12T01:02:03Z",
		"2014-12-12T01:02:03-08:00",
		"2014-12-12T01:02:03+08:00",
	} {
		ts, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		out = append(out, ts)
	}
	return out
}

func TestConvert_DateTime_DefaultZone(t *testing.T) {
	for _, ts := range sameInstants(t) {
		got, err := Convert(ts, typeOf[LocalDateTime](), nil)
		require.NoError(t, err)
		assert.Equal(t, LocalDateTimeOf(ts.Local()), got)
	}
}

func TestConvert_DateTime_CustomZone(t *testing.T) {
	pst, err := LoadLocation("Pacific Standard Time")
	require.NoError(t, err)

	for _, ts := range sameInstants(t) {
		got, err := Convert(ts, typeOf[LocalDateTime](), pst)
		require.NoError(t, err)
		assert.Equal(t, LocalDateTimeOf(ts.In(pst)), got)
	}

	ts := sameInstants(t)[0]
	got, err := Convert(ts, typeOf[LocalDateTime](), pst)
	require.NoError(t, err)
	assert.Equal(t, "2014-12-11T17:02:03", got.(LocalDateTime).String())

	opt, err := Convert(ts, typeOf[*LocalDateTime](), pst)
	require.NoError(t, err)
	assert.Equal(t, got, *opt.(*LocalDateTime))
}

func TestConvert_EnumString(t *testing.T) {
	type Color string
	got, err := Convert("Red", typeOf[Color](), nil)
	require.NoError(t, err)
	assert.Equal(t, Color("Red"), got)
}

func TestConvert_Unsupported(t *testing.T) {
	_, err := Convert(true, typeOf[int32](), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Edm.Boolean")
	assert.Contains(t, err.Error(), "int32")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestConvert_Null(t *testing.T) {
	got, err := Convert(nil, typeOf[*uint16](), nil)
	require.NoError(t, err)
	assert.Nil(t, got.(*uint16))

	_, err = Convert(nil, typeOf[uint16](), nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ConstraintNull, verr.Constraint)
}

func TestConvert_NilTargetPanics(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		aerr, ok := r.(*ArgumentError)
		require.True(t, ok)
		assert.Equal(t, "target", aerr.Name)
	}()
	_, _ = Convert("x", nil, nil)
}
