package convention

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/template"
)

const testModelYAML = `
namespace: Demo
entity_types:
  Customer:
    key: [ID]
    properties:
      ID:   { type: Edm.Int32 }
      Name: { type: Edm.String }
    navigation:
      Orders: { target: Order, collection: true }
  Order:
    key: [CustomerID, Number]
    properties:
      CustomerID: { type: Edm.Int32 }
      Number:     { type: Edm.Int32 }
      Total:      { type: Edm.Decimal }
entity_sets:
  Customers: Customer
  Orders:    Order
singletons:
  Me: Customer
operations:
  Rate:
    kind: action
    bound_to: Customer
    parameters:
      - { name: stars, type: Edm.Int32 }
  TopRated:
    kind: function
    bound_to: Customer
    collection: true
    parameters:
      - { name: count, type: Edm.Int32 }
`

func testModel(t *testing.T) *edm.Model {
	t.Helper()
	m, err := edm.Parse([]byte(testModelYAML))
	require.NoError(t, err)
	return m
}

func must[T any](v T, ok bool) T {
	if !ok {
		panic("lookup failed")
	}
	return v
}

var int32Type = reflect.TypeOf(int32(0))

func params(names ...string) []Parameter {
	ps := make([]Parameter, len(names))
	for i, n := range names {
		ps[i] = Parameter{Name: n, Type: int32Type}
	}
	return ps
}

// -----------------------------------------------------------------------------
// HasKeyParameters
// -----------------------------------------------------------------------------

func TestHasKeyParameters_SingleKey(t *testing.T) {
	customer := must(testModel(t).EntityType("Customer"))

	tests := []struct {
		names  []string
		prefix string
		want   bool
	}{
		{[]string{"key"}, "key", true},
		{[]string{"other", "key"}, "key", true},
		{[]string{"key"}, "", true},
		{[]string{"keyID"}, "key", false},
		{[]string{"id"}, "id", true},
		{[]string{"key"}, "id", false},
		{nil, "key", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HasKeyParameters(tt.names, customer, tt.prefix), "%v prefix=%q", tt.names, tt.prefix)
	}
}

func TestHasKeyParameters_CompositeKey(t *testing.T) {
	order := must(testModel(t).EntityType("Order"))
	all := []string{"keyCustomerID", "keyNumber"}

	assert.True(t, HasKeyParameters(all, order, "key"))
	assert.True(t, HasKeyParameters([]string{"keyNumber", "extra", "keyCustomerID"}, order, "key"), "order must not matter")

	// Removing any single key parameter flips the result.
	for i := range all {
		partial := append(append([]string(nil), all[:i]...), all[i+1:]...)
		assert.False(t, HasKeyParameters(partial, order, "key"), "without %s", all[i])
	}

	assert.False(t, HasKeyParameters([]string{"key"}, order, "key"))
	assert.True(t, HasKeyParameters([]string{"idCustomerID", "idNumber"}, order, "id"))
}

func TestHasKeyParameters_Idempotent(t *testing.T) {
	order := must(testModel(t).EntityType("Order"))
	names := []string{"keyCustomerID", "keyNumber"}
	first := HasKeyParameters(names, order, "key")
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, HasKeyParameters(names, order, "key"))
	}
	assert.Equal(t, []string{"keyCustomerID", "keyNumber"}, names)
}

func TestHasKeyParameter(t *testing.T) {
	m := testModel(t)
	order := must(m.EntityType("Order"))

	a := NewAction("Get", nil, params("keyCustomerID", "keyNumber"))
	assert.True(t, HasKeyParameter(a, order, "key"))

	a = NewAction("Get", nil, params("keyCustomerID"))
	assert.False(t, HasKeyParameter(a, order, "key"))
}

// -----------------------------------------------------------------------------
// AddSelector
// -----------------------------------------------------------------------------

func customersTemplate(t *testing.T, m *edm.Model) *template.PathTemplate {
	t.Helper()
	return template.MustNew(template.EntitySetSegment(must(m.EntitySet("Customers"))))
}

func customerByKeyTemplate(t *testing.T, m *edm.Model) *template.PathTemplate {
	t.Helper()
	set := must(m.EntitySet("Customers"))
	return template.MustNew(template.EntitySetSegment(set), template.KeySegment(set.EntityType, ""))
}

func TestAddSelector_Prefix(t *testing.T) {
	m := testModel(t)
	tmpl := customerByKeyTemplate(t, m)

	a := NewAction("Get", nil, params("key"))
	AddSelector(a, "", m, tmpl)
	require.Len(t, a.Selectors, 1)
	assert.Equal(t, tmpl.Template(), a.Selectors[0].Route.Template)
	assert.Equal(t, tmpl.Template(), a.Selectors[0].Route.Name)

	b := NewAction("Get", nil, params("key"))
	AddSelector(b, "odata", m, tmpl)
	require.Len(t, b.Selectors, 1)
	assert.Equal(t, "odata/"+tmpl.Template(), b.Selectors[0].Route.Template)
	assert.Equal(t, "odata/Customers({key})", b.Selectors[0].Route.Name)
}

func TestAddSelector_AttachesMetadata(t *testing.T) {
	m := testModel(t)
	tmpl := customersTemplate(t, m)

	a := NewAction("Get", nil, nil)
	AddSelector(a, "odata", m, tmpl)

	require.Len(t, a.Selectors, 1)
	require.Len(t, a.Selectors[0].EndpointMetadata, 1)
	meta, ok := a.Selectors[0].EndpointMetadata[0].(*EndpointMetadata)
	require.True(t, ok)
	assert.Equal(t, "odata", meta.Prefix)
	assert.Same(t, m, meta.Model)
	assert.Same(t, tmpl, meta.Template)
}

func TestAddSelector_ReusesUnroutedSelector(t *testing.T) {
	m := testModel(t)
	existing := &Selector{EndpointMetadata: []any{"host"}}
	a := NewAction("Get", nil, nil)
	a.Selectors = []*Selector{existing}

	AddSelector(a, "", m, customersTemplate(t, m))

	require.Len(t, a.Selectors, 1)
	assert.Same(t, existing, a.Selectors[0])
	assert.Equal(t, "Customers", existing.Route.Template)
	assert.Len(t, existing.EndpointMetadata, 2, "metadata is appended, not replaced")
}

func TestAddSelector_PreservesAttributeRoutes(t *testing.T) {
	m := testModel(t)
	attr := &Selector{Route: &AttributeRoute{Template: "custom/customers", Name: "custom"}}
	a := NewAction("Get", nil, nil)
	a.Selectors = []*Selector{attr}

	AddSelector(a, "", m, customersTemplate(t, m))

	require.Len(t, a.Selectors, 2)
	assert.Equal(t, "custom/customers", attr.Route.Template)
	assert.Empty(t, attr.EndpointMetadata)
	assert.Equal(t, "Customers", a.Selectors[1].Route.Template)
}

func TestAddSelector_TwiceIsMonotonic(t *testing.T) {
	m := testModel(t)
	first := customersTemplate(t, m)
	second := customerByKeyTemplate(t, m)

	a := NewAction("Get", nil, params("key"))
	AddSelector(a, "", m, first)
	require.Len(t, a.Selectors, 1)

	AddSelector(a, "", m, second)
	require.Len(t, a.Selectors, 2)

	assert.Equal(t, "Customers", a.Selectors[0].Route.Template)
	assert.Same(t, first, a.Selectors[0].EndpointMetadata[0].(*EndpointMetadata).Template)
	assert.Equal(t, "Customers({key})", a.Selectors[1].Route.Template)
	assert.Same(t, second, a.Selectors[1].EndpointMetadata[0].(*EndpointMetadata).Template)
}

func TestAddSelector_PanicsOnMissingArguments(t *testing.T) {
	m := testModel(t)
	tmpl := customersTemplate(t, m)
	a := NewAction("Get", nil, nil)

	tests := []struct {
		name string
		fn   func()
	}{
		{"action", func() { AddSelector(nil, "", m, tmpl) }},
		{"model", func() { AddSelector(a, "", nil, tmpl) }},
		{"template", func() { AddSelector(a, "", m, nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				err, ok := recover().(*ArgumentError)
				require.True(t, ok)
				assert.Equal(t, tt.name, err.Name)
			}()
			tt.fn()
		})
	}
	assert.Empty(t, a.Selectors)
}

// -----------------------------------------------------------------------------
// Attributes
// -----------------------------------------------------------------------------

func TestIsProtocolAction(t *testing.T) {
	assert.True(t, IsProtocolAction(NewAction("Get", nil, nil)))
	assert.False(t, IsProtocolAction(NewAction("Helper", nil, nil, NonProtocolAction{})))
	assert.False(t, IsProtocolAction(NewAction("Helper", nil, nil, &NonProtocolAction{})))

	a := &Action{Name: "Late", Attributes: []any{NonProtocolAction{}}}
	app := &Application{Controllers: []*Controller{{Name: "C", Actions: []*Action{a}}}}
	assert.True(t, IsProtocolAction(a), "flag is resolved, not scanned")
	app.Resolve()
	assert.False(t, IsProtocolAction(a))
	assert.Same(t, app.Controllers[0], a.Controller)

	assert.Panics(t, func() { IsProtocolAction(nil) })
}

func TestControllerAttributes(t *testing.T) {
	c := NewController("Customers", RoutePrefix{Prefix: "v2"}, "marker")

	assert.True(t, HasAttribute[RoutePrefix](c))
	assert.True(t, HasAttribute[string](c))
	assert.False(t, HasAttribute[NonProtocolAction](c))

	rp, ok := GetAttribute[RoutePrefix](c)
	require.True(t, ok)
	assert.Equal(t, "v2", rp.Prefix)

	_, ok = GetAttribute[*RoutePrefix](c)
	assert.False(t, ok)

	a := NewAction("Get", nil, nil, 42)
	n, ok := GetActionAttribute[int](a)
	require.True(t, ok)
	assert.Equal(t, 42, n)
}
