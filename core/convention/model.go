package convention

import (
	"net/http"
	"reflect"

	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/template"
)

// Application is the host application model the conventions bind against.
// It is mutated only during Build and must not be shared before Freeze.
type Application struct {
	Controllers []*Controller
}

// Controller groups actions. Conventions match a controller to an entity
// set or singleton by Name.
type Controller struct {
	Name       string
	Attributes []any
	Actions    []*Action
}

// Action is one candidate host operation.
type Action struct {
	Name       string
	Controller *Controller
	Attributes []any

	// Parameters in declared order.
	Parameters []Parameter

	// Methods are the HTTP methods the action answers. Conventions fill
	// them in when empty.
	Methods []string

	// NonProtocol excludes the action from convention binding. It is
	// resolved from a NonProtocolAction attribute by NewAction and
	// Application.Resolve.
	NonProtocol bool

	Selectors []*Selector
	Handler   http.HandlerFunc
}

// Parameter is a declared action parameter.
type Parameter struct {
	Name string
	Type reflect.Type
}

// Selector is one dispatch entry of an action.
type Selector struct {
	// Route is nil for an unrouted selector.
	Route *AttributeRoute

	// EndpointMetadata is read by the serializer. Conventions append
	// *EndpointMetadata values.
	EndpointMetadata []any
}

// AttributeRoute is an explicit route template.
type AttributeRoute struct {
	Template string
	Name     string
}

// EndpointMetadata ties a bound route to the model and path template it
// was derived from.
type EndpointMetadata struct {
	Prefix   string
	Model    *edm.Model
	Template *template.PathTemplate
}

// NonProtocolAction marks an action the conventions must skip.
type NonProtocolAction struct{}

// RoutePrefix on a controller overrides the builder's route prefix for its
// actions.
type RoutePrefix struct {
	Prefix string
}

// NewController creates a controller.
func NewController(name string, attrs ...any) *Controller {
	return &Controller{Name: name, Attributes: attrs}
}

// NewAction creates an action and resolves its capability flags from attrs.
func NewAction(name string, handler http.HandlerFunc, params []Parameter, attrs ...any) *Action {
	a := &Action{
		Name:       name,
		Attributes: attrs,
		Parameters: params,
		Handler:    handler,
	}
	a.resolve()
	return a
}

// AddController appends c to the application.
func (app *Application) AddController(c *Controller) *Controller {
	app.Controllers = append(app.Controllers, c)
	return c
}

// AddAction appends a to the controller and sets its back reference.
func (c *Controller) AddAction(a *Action) *Action {
	a.Controller = c
	c.Actions = append(c.Actions, a)
	return a
}

// Resolve links actions to their controllers and collapses attributes into
// capability flags. Build calls it; it is idempotent.
func (app *Application) Resolve() {
	for _, c := range app.Controllers {
		for _, a := range c.Actions {
			a.Controller = c
			a.resolve()
		}
	}
}

func (a *Action) resolve() {
	for _, attr := range a.Attributes {
		switch attr.(type) {
		case NonProtocolAction, *NonProtocolAction:
			a.NonProtocol = true
		}
	}
}

// ParameterNames returns the declared parameter names in order.
func (a *Action) ParameterNames() []string {
	names := make([]string, len(a.Parameters))
	for i, p := range a.Parameters {
		names[i] = p.Name
	}
	return names
}

// Parameter looks up a declared parameter by name.
func (a *Action) Parameter(name string) (Parameter, bool) {
	for _, p := range a.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// IsProtocolAction reports whether conventions may bind a.
func IsProtocolAction(a *Action) bool {
	if a == nil {
		panic(&ArgumentError{Name: "action"})
	}
	return !a.NonProtocol
}

// HasAttribute reports whether c carries an attribute of type T.
func HasAttribute[T any](c *Controller) bool {
	_, ok := GetAttribute[T](c)
	return ok
}

// GetAttribute returns the first controller attribute of type T.
func GetAttribute[T any](c *Controller) (T, bool) {
	if c == nil {
		panic(&ArgumentError{Name: "controller"})
	}
	return firstOf[T](c.Attributes)
}

// GetActionAttribute returns the first action attribute of type T.
func GetActionAttribute[T any](a *Action) (T, bool) {
	if a == nil {
		panic(&ArgumentError{Name: "action"})
	}
	return firstOf[T](a.Attributes)
}

func firstOf[T any](attrs []any) (T, bool) {
	for _, attr := range attrs {
		if v, ok := attr.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
