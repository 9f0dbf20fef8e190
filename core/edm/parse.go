package edm

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/artpar/odatagate/core/primitive"
)

//go:embed model.schema.json
var definitionSchemaJSON string

var definitionSchema = jsonschema.MustCompileString("model.schema.json", definitionSchemaJSON)

// Definition is the YAML form of a model.
type Definition struct {
	Namespace   string                   `yaml:"namespace"`
	EntityTypes map[string]EntityTypeDef `yaml:"entity_types"`
	EntitySets  map[string]string        `yaml:"entity_sets,omitempty"`
	Singletons  map[string]string        `yaml:"singletons,omitempty"`
	Operations  map[string]OperationDef  `yaml:"operations,omitempty"`
}

// EntityTypeDef declares an entity type.
type EntityTypeDef struct {
	Key        []string                 `yaml:"key"`
	Properties map[string]PropertyDef   `yaml:"properties"`
	Navigation map[string]NavigationDef `yaml:"navigation,omitempty"`
}

// PropertyDef declares a structural property.
type PropertyDef struct {
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable,omitempty"`
}

// NavigationDef declares a navigation property.
type NavigationDef struct {
	Target     string `yaml:"target"`
	Collection bool   `yaml:"collection,omitempty"`
}

// OperationDef declares an action or function.
type OperationDef struct {
	Kind       string         `yaml:"kind"`
	BoundTo    string         `yaml:"bound_to,omitempty"`
	Collection bool           `yaml:"collection,omitempty"`
	Parameters []ParameterDef `yaml:"parameters,omitempty"`
	Returns    string         `yaml:"returns,omitempty"`
}

// ParameterDef declares an operation parameter.
type ParameterDef struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// ParseFile parses and resolves a model definition from a YAML file.
func ParseFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses and resolves a model definition from YAML bytes.
func Parse(data []byte) (*Model, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validateShape(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	return Resolve(def)
}

// validateShape checks the generic YAML document against the embedded JSON
// Schema. The document is round-tripped through JSON so the validator sees
// JSON-native types.
func validateShape(raw any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("model definition is not a JSON-compatible document: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("model definition is not a JSON-compatible document: %w", err)
	}
	if err := definitionSchema.Validate(doc); err != nil {
		return fmt.Errorf("validate model definition: %w", err)
	}
	return nil
}

// Resolve validates a definition and links it into an immutable Model.
func Resolve(def Definition) (*Model, error) {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	m := &Model{
		Namespace:  def.Namespace,
		types:      make(map[string]*EntityType),
		sets:       make(map[string]*EntitySet),
		singletons: make(map[string]*Singleton),
		operations: make(map[string]*Operation),
	}

	if m.Namespace == "" {
		fail("namespace is required")
	}

	// Types first so navigation, sets and operations can link to them.
	for _, name := range sortedKeys(def.EntityTypes) {
		if !isValidIdentifier(name) {
			fail("entity type name %q is not a valid identifier", name)
			continue
		}
		t, typeErrs := resolveEntityType(m.Namespace, name, def.EntityTypes[name])
		errs = append(errs, typeErrs...)
		m.types[name] = t
		m.EntityTypes = append(m.EntityTypes, t)
	}

	for _, name := range sortedKeys(def.EntityTypes) {
		t, ok := m.types[name]
		if !ok {
			continue
		}
		tdef := def.EntityTypes[name]
		for _, navName := range sortedKeys(tdef.Navigation) {
			nav := tdef.Navigation[navName]
			target, ok := m.EntityType(nav.Target)
			if !ok {
				fail("entity type %q: navigation %q targets unknown type %q", name, navName, nav.Target)
				continue
			}
			if _, clash := t.Property(navName); clash {
				fail("entity type %q: navigation %q clashes with a property", name, navName)
				continue
			}
			t.Navigation = append(t.Navigation, NavigationProperty{
				Name:       navName,
				Target:     target,
				Collection: nav.Collection,
			})
		}
	}

	sets := def.EntitySets
	if len(sets) == 0 {
		sets = make(map[string]string, len(m.EntityTypes))
		for _, t := range m.EntityTypes {
			sets[DefaultSetName(t.Name)] = t.Name
		}
	}

	for _, name := range sortedKeys(sets) {
		if !isValidIdentifier(name) {
			fail("entity set name %q is not a valid identifier", name)
			continue
		}
		t, ok := m.EntityType(sets[name])
		if !ok {
			fail("entity set %q: unknown entity type %q", name, sets[name])
			continue
		}
		s := &EntitySet{Name: name, EntityType: t}
		m.sets[name] = s
		m.EntitySets = append(m.EntitySets, s)
	}

	for _, name := range sortedKeys(def.Singletons) {
		if !isValidIdentifier(name) {
			fail("singleton name %q is not a valid identifier", name)
			continue
		}
		if _, clash := m.sets[name]; clash {
			fail("singleton %q clashes with an entity set", name)
			continue
		}
		t, ok := m.EntityType(def.Singletons[name])
		if !ok {
			fail("singleton %q: unknown entity type %q", name, def.Singletons[name])
			continue
		}
		s := &Singleton{Name: name, EntityType: t}
		m.singletons[name] = s
		m.Singletons = append(m.Singletons, s)
	}

	for _, name := range sortedKeys(def.Operations) {
		op, opErrs := resolveOperation(m, name, def.Operations[name])
		errs = append(errs, opErrs...)
		if op != nil {
			m.operations[name] = op
			m.Operations = append(m.Operations, op)
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return m, nil
}

func resolveEntityType(namespace, name string, def EntityTypeDef) (*EntityType, []string) {
	var errs []string
	t := &EntityType{Name: name, Namespace: namespace}

	kinds := make(map[string]primitive.Kind, len(def.Properties))
	for _, propName := range sortedKeys(def.Properties) {
		if !isValidIdentifier(propName) {
			errs = append(errs, fmt.Sprintf("entity type %q: property name %q is not a valid identifier", name, propName))
			continue
		}
		kind, ok := primitive.ParseKind(def.Properties[propName].Type)
		if !ok {
			errs = append(errs, fmt.Sprintf("entity type %q: property %q has unknown type %q", name, propName, def.Properties[propName].Type))
			continue
		}
		kinds[propName] = kind
	}

	if len(def.Key) == 0 {
		errs = append(errs, fmt.Sprintf("entity type %q: key is required", name))
	}
	seen := make(map[string]bool, len(def.Key))
	for _, keyName := range def.Key {
		if seen[keyName] {
			errs = append(errs, fmt.Sprintf("entity type %q: key %q listed twice", name, keyName))
			continue
		}
		seen[keyName] = true

		kind, ok := kinds[keyName]
		if !ok {
			errs = append(errs, fmt.Sprintf("entity type %q: key %q is not a declared property", name, keyName))
			continue
		}
		if !kind.Keyable() {
			errs = append(errs, fmt.Sprintf("entity type %q: key %q has type %s which cannot be a key", name, keyName, kind))
			continue
		}
		if def.Properties[keyName].Nullable {
			errs = append(errs, fmt.Sprintf("entity type %q: key %q must not be nullable", name, keyName))
		}
		t.Keys = append(t.Keys, KeyProperty{Name: keyName, Kind: kind})
		t.Properties = append(t.Properties, Property{Name: keyName, Kind: kind})
	}

	for _, propName := range sortedKeys(def.Properties) {
		kind, ok := kinds[propName]
		if !ok || seen[propName] {
			continue
		}
		t.Properties = append(t.Properties, Property{
			Name:     propName,
			Kind:     kind,
			Nullable: def.Properties[propName].Nullable,
		})
	}

	return t, errs
}

func resolveOperation(m *Model, name string, def OperationDef) (*Operation, []string) {
	var errs []string
	if !isValidIdentifier(name) {
		return nil, []string{fmt.Sprintf("operation name %q is not a valid identifier", name)}
	}

	op := &Operation{
		Name:              name,
		Namespace:         m.Namespace,
		BindingCollection: def.Collection,
		ReturnType:        def.Returns,
	}

	switch def.Kind {
	case "action":
		op.Kind = OperationAction
	case "function":
		op.Kind = OperationFunction
	default:
		errs = append(errs, fmt.Sprintf("operation %q: kind must be action or function", name))
	}

	if def.BoundTo != "" {
		t, ok := m.EntityType(def.BoundTo)
		if !ok {
			errs = append(errs, fmt.Sprintf("operation %q: bound to unknown entity type %q", name, def.BoundTo))
		}
		op.BindingType = t
	} else if def.Collection {
		errs = append(errs, fmt.Sprintf("operation %q: collection requires bound_to", name))
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		if !isValidIdentifier(p.Name) {
			errs = append(errs, fmt.Sprintf("operation %q: parameter name %q is not a valid identifier", name, p.Name))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("operation %q: parameter %q declared twice", name, p.Name))
			continue
		}
		seen[p.Name] = true
		kind, ok := primitive.ParseKind(p.Type)
		if !ok {
			errs = append(errs, fmt.Sprintf("operation %q: parameter %q has unknown type %q", name, p.Name, p.Type))
			continue
		}
		op.Parameters = append(op.Parameters, OperationParameter{Name: p.Name, Kind: kind})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return op, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isValidIdentifier checks if a string is a valid EDM simple identifier.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		if i == 0 {
			if !isLetter(c) && c != '_' {
				return false
			}
		} else {
			if !isLetter(c) && !isDigit(c) && c != '_' {
				return false
			}
		}
	}

	return true
}

func isLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}
