package convention

import (
	"fmt"

	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/template"
)

// HasKeyParameters reports whether names satisfy the key naming rule for
// et. A single key needs a parameter named keyPrefix; a composite key needs
// keyPrefix+Name for every key property. Order is not checked. An empty
// keyPrefix means template.DefaultKeyPrefix.
func HasKeyParameters(names []string, et *edm.EntityType, keyPrefix string) bool {
	if et == nil {
		panic(&ArgumentError{Name: "entityType"})
	}
	if keyPrefix == "" {
		keyPrefix = template.DefaultKeyPrefix
	}

	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}

	keys := et.Key()
	if len(keys) == 1 {
		return present[keyPrefix]
	}
	for _, k := range keys {
		if !present[keyPrefix+k.Name] {
			return false
		}
	}
	return len(keys) > 0
}

// HasKeyParameter applies HasKeyParameters to the action's declared
// parameters.
func HasKeyParameter(a *Action, et *edm.EntityType, keyPrefix string) bool {
	if a == nil {
		panic(&ArgumentError{Name: "action"})
	}
	return HasKeyParameters(a.ParameterNames(), et, keyPrefix)
}

// AddSelector routes a to tmpl. The first selector without an attribute
// route is reused, otherwise a new one is appended; either way it ends up
// routed, so the next call adds a selector. The route and its name are
// tmpl's string, behind prefix when prefix is not empty. The metadata
// triple is appended to the selector.
//
// Each (action, template) pair must be bound at most once per build.
func AddSelector(a *Action, prefix string, model *edm.Model, tmpl *template.PathTemplate) {
	switch {
	case a == nil:
		panic(&ArgumentError{Name: "action"})
	case model == nil:
		panic(&ArgumentError{Name: "model"})
	case tmpl == nil:
		panic(&ArgumentError{Name: "template"})
	}

	var sel *Selector
	for _, s := range a.Selectors {
		if s.Route == nil {
			sel = s
			break
		}
	}
	if sel == nil {
		sel = &Selector{}
		a.Selectors = append(a.Selectors, sel)
	}

	route := tmpl.Template()
	if prefix != "" {
		route = prefix + "/" + route
	}

	sel.Route = &AttributeRoute{Template: route, Name: route}
	sel.EndpointMetadata = append(sel.EndpointMetadata, &EndpointMetadata{
		Prefix:   prefix,
		Model:    model,
		Template: tmpl,
	})
}

// ArgumentError reports a missing required argument. It is raised by panic
// since it indicates a misconfigured host model; Build recovers it.
type ArgumentError struct {
	Name string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("convention: argument %q must not be nil", e.Name)
}
