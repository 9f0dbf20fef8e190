package edm

import (
	"github.com/artpar/odatagate/core/primitive"
)

// Model is a resolved schema. It must not be modified after Resolve returns.
type Model struct {
	// Namespace qualifies operation names ("Demo.Rate").
	Namespace string

	// EntityTypes sorted by name.
	EntityTypes []*EntityType

	// EntitySets sorted by name.
	EntitySets []*EntitySet

	// Singletons sorted by name.
	Singletons []*Singleton

	// Operations sorted by name.
	Operations []*Operation

	types      map[string]*EntityType
	sets       map[string]*EntitySet
	singletons map[string]*Singleton
	operations map[string]*Operation
}

// EntityType describes an entity shape.
type EntityType struct {
	// Name is unqualified ("Customer").
	Name string

	// Namespace of the owning model.
	Namespace string

	// Keys in declared order.
	Keys []KeyProperty

	// Properties with key properties first, then the rest by name.
	Properties []Property

	// Navigation properties sorted by name.
	Navigation []NavigationProperty
}

// KeyProperty is one component of an entity key.
type KeyProperty struct {
	Name string
	Kind primitive.Kind
}

// Property is a structural primitive property.
type Property struct {
	Name     string
	Kind     primitive.Kind
	Nullable bool
}

// NavigationProperty links an entity type to another.
type NavigationProperty struct {
	Name       string
	Target     *EntityType
	Collection bool
}

// EntitySet is a named collection of entities.
type EntitySet struct {
	Name       string
	EntityType *EntityType
}

// Singleton is a named single entity.
type Singleton struct {
	Name       string
	EntityType *EntityType
}

// OperationKind distinguishes actions from functions.
type OperationKind int

const (
	// OperationAction has side effects and is invoked with POST.
	OperationAction OperationKind = iota

	// OperationFunction is side-effect free and invoked with GET.
	OperationFunction
)

// String returns the operation kind name.
func (k OperationKind) String() string {
	switch k {
	case OperationAction:
		return "action"
	case OperationFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Operation is an action or function, optionally bound to an entity type.
type Operation struct {
	Name      string
	Namespace string
	Kind      OperationKind

	// BindingType is nil for unbound operations.
	BindingType *EntityType

	// BindingCollection reports whether the operation binds to a collection
	// of BindingType rather than a single entity.
	BindingCollection bool

	// Parameters excluding the binding parameter, in declared order.
	Parameters []OperationParameter

	// ReturnType is the declared return type name, empty for none.
	ReturnType string
}

// OperationParameter is a non-binding operation parameter.
type OperationParameter struct {
	Name string
	Kind primitive.Kind
}

// Key returns the ordered key properties of the entity type.
func (t *EntityType) Key() []KeyProperty {
	return t.Keys
}

// FullName returns the namespace-qualified type name.
func (t *EntityType) FullName() string {
	return qualify(t.Namespace, t.Name)
}

// Property looks up a structural property by name.
func (t *EntityType) Property(name string) (Property, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// NavigationProperty looks up a navigation property by name.
func (t *EntityType) NavigationProperty(name string) (NavigationProperty, bool) {
	for _, n := range t.Navigation {
		if n.Name == name {
			return n, true
		}
	}
	return NavigationProperty{}, false
}

// IsKey reports whether name is one of the key properties.
func (t *EntityType) IsKey(name string) bool {
	for _, k := range t.Keys {
		if k.Name == name {
			return true
		}
	}
	return false
}

// FullName returns the namespace-qualified operation name.
func (o *Operation) FullName() string {
	return qualify(o.Namespace, o.Name)
}

// IsBound reports whether the operation has a binding parameter.
func (o *Operation) IsBound() bool {
	return o.BindingType != nil
}

// EntityType looks up an entity type by unqualified or qualified name.
func (m *Model) EntityType(name string) (*EntityType, bool) {
	t, ok := m.types[unqualify(m.Namespace, name)]
	return t, ok
}

// EntitySet looks up an entity set by name.
func (m *Model) EntitySet(name string) (*EntitySet, bool) {
	s, ok := m.sets[name]
	return s, ok
}

// Singleton looks up a singleton by name.
func (m *Model) Singleton(name string) (*Singleton, bool) {
	s, ok := m.singletons[name]
	return s, ok
}

// Operation looks up an operation by unqualified or qualified name.
func (m *Model) Operation(name string) (*Operation, bool) {
	o, ok := m.operations[unqualify(m.Namespace, name)]
	return o, ok
}

// BoundOperations returns the operations bound to t (single entity or
// collection), sorted by name.
func (m *Model) BoundOperations(t *EntityType) []*Operation {
	var ops []*Operation
	for _, o := range m.Operations {
		if o.BindingType == t {
			ops = append(ops, o)
		}
	}
	return ops
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

func unqualify(namespace, name string) string {
	if namespace != "" && len(name) > len(namespace)+1 && name[:len(namespace)+1] == namespace+"." {
		return name[len(namespace)+1:]
	}
	return name
}
