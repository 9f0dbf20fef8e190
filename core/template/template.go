// Package template describes routable resource paths over an edm.Model.
//
// A PathTemplate is an immutable, ordered list of segments. Its canonical
// string form doubles as the dispatch route and as the route name:
//
//	Customers
//	Customers({key})
//	Orders(CustomerID={keyCustomerID},Number={keyNumber})
//	Customers({key})/Orders
//	Customers({key})/Demo.Rate
//	Customers/Demo.TopRated(count={count})
//
// The structure stays available after routing so the serializer can tell
// which navigation source, entity type or operation a matched route
// addresses.
package template

import (
	"fmt"
	"strings"

	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/primitive"
)

// DefaultKeyPrefix names the single key parameter and prefixes composite
// key parameters.
const DefaultKeyPrefix = "key"

// SegmentKind identifies what a segment addresses.
type SegmentKind int

const (
	SegmentEntitySet SegmentKind = iota
	SegmentSingleton
	SegmentKey
	SegmentNavigation
	SegmentAction
	SegmentFunction
)

var segmentKindNames = [...]string{"entityset", "singleton", "key", "navigation", "action", "function"}

// String returns the segment kind name.
func (k SegmentKind) String() string {
	if k < 0 || int(k) >= len(segmentKindNames) {
		return "unknown"
	}
	return segmentKindNames[k]
}

// Segment is one step of a path template. Use the constructors; the zero
// value is not a valid segment.
type Segment struct {
	Kind SegmentKind

	// EntitySet is set for SegmentEntitySet.
	EntitySet *edm.EntitySet

	// Singleton is set for SegmentSingleton.
	Singleton *edm.Singleton

	// Navigation is set for SegmentNavigation.
	Navigation *edm.NavigationProperty

	// Operation is set for SegmentAction and SegmentFunction.
	Operation *edm.Operation

	// EntityType is the type addressed after this segment. For operation
	// segments it is the binding type.
	EntityType *edm.EntityType

	// KeyPrefix is set for SegmentKey.
	KeyPrefix string
}

// Parameter is a placeholder that appears in a template string.
type Parameter struct {
	// Name as written between braces.
	Name string

	// Property is the key property name for key parameters, empty for
	// function parameters.
	Property string

	Kind primitive.Kind
}

// EntitySetSegment addresses every entity of a set.
func EntitySetSegment(set *edm.EntitySet) Segment {
	if set == nil {
		panic(&ArgumentError{Name: "set"})
	}
	return Segment{Kind: SegmentEntitySet, EntitySet: set, EntityType: set.EntityType}
}

// SingletonSegment addresses a singleton.
func SingletonSegment(s *edm.Singleton) Segment {
	if s == nil {
		panic(&ArgumentError{Name: "singleton"})
	}
	return Segment{Kind: SegmentSingleton, Singleton: s, EntityType: s.EntityType}
}

// KeySegment selects one entity of type et. An empty prefix means
// DefaultKeyPrefix.
func KeySegment(et *edm.EntityType, prefix string) Segment {
	if et == nil {
		panic(&ArgumentError{Name: "entityType"})
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return Segment{Kind: SegmentKey, EntityType: et, KeyPrefix: prefix}
}

// NavigationSegment follows a navigation property.
func NavigationSegment(nav edm.NavigationProperty) Segment {
	if nav.Target == nil {
		panic(&ArgumentError{Name: "nav.Target"})
	}
	return Segment{Kind: SegmentNavigation, Navigation: &nav, EntityType: nav.Target}
}

// OperationSegment invokes a bound or unbound operation. The segment kind
// follows the operation kind.
func OperationSegment(op *edm.Operation) Segment {
	if op == nil {
		panic(&ArgumentError{Name: "operation"})
	}
	kind := SegmentAction
	if op.Kind == edm.OperationFunction {
		kind = SegmentFunction
	}
	return Segment{Kind: kind, Operation: op, EntityType: op.BindingType}
}

// String renders the segment as it appears in a template.
func (s Segment) String() string {
	switch s.Kind {
	case SegmentEntitySet:
		return s.EntitySet.Name
	case SegmentSingleton:
		return s.Singleton.Name
	case SegmentKey:
		keys := s.EntityType.Key()
		if len(keys) == 1 {
			return "({" + s.KeyPrefix + "})"
		}
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k.Name + "={" + s.KeyPrefix + k.Name + "}"
		}
		return "(" + strings.Join(parts, ",") + ")"
	case SegmentNavigation:
		return s.Navigation.Name
	case SegmentAction:
		return s.Operation.FullName()
	case SegmentFunction:
		parts := make([]string, len(s.Operation.Parameters))
		for i, p := range s.Operation.Parameters {
			parts[i] = p.Name + "={" + p.Name + "}"
		}
		return s.Operation.FullName() + "(" + strings.Join(parts, ",") + ")"
	default:
		return ""
	}
}

// parameters lists the placeholders the segment contributes.
func (s Segment) parameters() []Parameter {
	switch s.Kind {
	case SegmentKey:
		keys := s.EntityType.Key()
		if len(keys) == 1 {
			return []Parameter{{Name: s.KeyPrefix, Property: keys[0].Name, Kind: keys[0].Kind}}
		}
		params := make([]Parameter, len(keys))
		for i, k := range keys {
			params[i] = Parameter{Name: s.KeyPrefix + k.Name, Property: k.Name, Kind: k.Kind}
		}
		return params
	case SegmentFunction:
		params := make([]Parameter, len(s.Operation.Parameters))
		for i, p := range s.Operation.Parameters {
			params[i] = Parameter{Name: p.Name, Kind: p.Kind}
		}
		return params
	default:
		return nil
	}
}

// PathTemplate is an immutable resource path description.
type PathTemplate struct {
	segments []Segment
	template string
	params   []Parameter
}

// New validates the segment sequence and builds a template.
func New(segments ...Segment) (*PathTemplate, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("template: at least one segment is required")
	}

	var b strings.Builder
	var params []Parameter
	seen := make(map[string]bool)
	collection := false

	for i, s := range segments {
		switch s.Kind {
		case SegmentEntitySet, SegmentSingleton:
			if i != 0 {
				return nil, fmt.Errorf("template: %s segment %q must come first", s.Kind, s)
			}
			collection = s.Kind == SegmentEntitySet
		case SegmentKey:
			if !collection {
				return nil, fmt.Errorf("template: key segment must follow a collection")
			}
			if s.EntityType != segments[i-1].EntityType {
				return nil, fmt.Errorf("template: key segment type %q does not match the path", s.EntityType.Name)
			}
			if len(s.EntityType.Key()) == 0 {
				return nil, fmt.Errorf("template: entity type %q has no key", s.EntityType.Name)
			}
			collection = false
		case SegmentNavigation:
			if i == 0 || collection {
				return nil, fmt.Errorf("template: navigation %q must follow a single entity", s.Navigation.Name)
			}
			collection = s.Navigation.Collection
		case SegmentAction, SegmentFunction:
			if err := checkBinding(s.Operation, segments[:i], collection); err != nil {
				return nil, err
			}
			if i != len(segments)-1 {
				return nil, fmt.Errorf("template: operation %q must be the last segment", s.Operation.FullName())
			}
		default:
			return nil, fmt.Errorf("template: invalid segment at position %d", i)
		}

		if i > 0 && s.Kind != SegmentKey {
			b.WriteByte('/')
		}
		b.WriteString(s.String())

		for _, p := range s.parameters() {
			if seen[p.Name] {
				return nil, fmt.Errorf("template: parameter %q appears twice", p.Name)
			}
			seen[p.Name] = true
			params = append(params, p)
		}
	}

	return &PathTemplate{
		segments: append([]Segment(nil), segments...),
		template: b.String(),
		params:   params,
	}, nil
}

// MustNew is like New but panics on an invalid segment sequence.
func MustNew(segments ...Segment) *PathTemplate {
	t, err := New(segments...)
	if err != nil {
		panic(err)
	}
	return t
}

func checkBinding(op *edm.Operation, before []Segment, collection bool) error {
	if !op.IsBound() {
		if len(before) != 0 {
			return fmt.Errorf("template: unbound operation %q must be the only segment", op.FullName())
		}
		return nil
	}
	if len(before) == 0 {
		return fmt.Errorf("template: bound operation %q needs a binding segment", op.FullName())
	}
	if before[len(before)-1].EntityType != op.BindingType {
		return fmt.Errorf("template: operation %q is not bound to %q", op.FullName(), before[len(before)-1].EntityType.Name)
	}
	if collection != op.BindingCollection {
		return fmt.Errorf("template: operation %q binding cardinality does not match the path", op.FullName())
	}
	return nil
}

// Template returns the canonical template string.
func (t *PathTemplate) Template() string {
	return t.template
}

// String implements fmt.Stringer.
func (t *PathTemplate) String() string {
	return t.template
}

// Segments returns a copy of the segments.
func (t *PathTemplate) Segments() []Segment {
	return append([]Segment(nil), t.segments...)
}

// Parameters returns the placeholders in template order.
func (t *PathTemplate) Parameters() []Parameter {
	return append([]Parameter(nil), t.params...)
}

// Parameter looks up a placeholder by name.
func (t *PathTemplate) Parameter(name string) (Parameter, bool) {
	for _, p := range t.params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// NavigationSource returns the entity set or singleton the path starts
// from, or "" for an unbound operation.
func (t *PathTemplate) NavigationSource() string {
	switch first := t.segments[0]; first.Kind {
	case SegmentEntitySet:
		return first.EntitySet.Name
	case SegmentSingleton:
		return first.Singleton.Name
	default:
		return ""
	}
}

// EntityType returns the type of the addressed resource. For operations it
// is the binding type, nil when unbound.
func (t *PathTemplate) EntityType() *edm.EntityType {
	return t.last().EntityType
}

// IsCollection reports whether the path addresses a collection of
// entities rather than a single one. Operation paths are never
// collections.
func (t *PathTemplate) IsCollection() bool {
	last := t.last()
	switch last.Kind {
	case SegmentEntitySet:
		return true
	case SegmentNavigation:
		return last.Navigation.Collection
	default:
		return false
	}
}

// HasKey reports whether any segment selects an entity by key.
func (t *PathTemplate) HasKey() bool {
	for _, s := range t.segments {
		if s.Kind == SegmentKey {
			return true
		}
	}
	return false
}

// Operation returns the operation the path invokes, or nil.
func (t *PathTemplate) Operation() *edm.Operation {
	return t.last().Operation
}

func (t *PathTemplate) last() Segment {
	return t.segments[len(t.segments)-1]
}

// ArgumentError reports a missing required argument. It is raised by panic
// since it indicates a programming error.
type ArgumentError struct {
	Name string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("template: argument %q must not be nil", e.Name)
}
