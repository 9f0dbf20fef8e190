package convention

import (
	"net/http"
	"strings"

	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/template"
)

// Context is what a convention sees for one controller.
type Context struct {
	// Prefix is the effective route prefix for the controller.
	Prefix    string
	KeyPrefix string
	Model     *edm.Model

	Controller *Controller

	// At most one of EntitySet and Singleton is set, matched by controller
	// name.
	EntitySet *edm.EntitySet
	Singleton *edm.Singleton
}

// EntityType returns the type served by the controller, or nil.
func (ctx *Context) EntityType() *edm.EntityType {
	switch {
	case ctx.EntitySet != nil:
		return ctx.EntitySet.EntityType
	case ctx.Singleton != nil:
		return ctx.Singleton.EntityType
	default:
		return nil
	}
}

// Convention binds matching actions to path templates.
type Convention interface {
	// Name identifies the convention in logs.
	Name() string

	// AppliesToController reports whether the convention looks at the
	// controller's actions at all.
	AppliesToController(ctx *Context) bool

	// AppliesToAction binds a when it matches and reports whether it did.
	AppliesToAction(ctx *Context, a *Action) bool
}

// DefaultConventions returns the built-in conventions in evaluation order.
func DefaultConventions() []Convention {
	return []Convention{
		singletonConvention{},
		entitySetConvention{},
		entityConvention{},
		navigationConvention{},
		operationConvention{},
	}
}

// bind creates the template, attaches it and fills in methods.
func bind(ctx *Context, a *Action, method string, segments ...template.Segment) bool {
	tmpl, err := template.New(segments...)
	if err != nil {
		return false
	}
	AddSelector(a, ctx.Prefix, ctx.Model, tmpl)
	if len(a.Methods) == 0 {
		a.Methods = []string{method}
	}
	return true
}

// verb splits a conventional action name ("GetCustomer") into its HTTP
// method and the remaining suffix.
func verb(name string) (method, rest string, ok bool) {
	for _, v := range [...]string{"Get", "Post", "Put", "Patch", "Delete"} {
		if strings.HasPrefix(name, v) {
			return strings.ToUpper(v), name[len(v):], true
		}
	}
	return "", "", false
}

// entitySetConvention binds Get/Get{Set} and Post/Post{Type} without key
// parameters to "Set".
type entitySetConvention struct{}

func (entitySetConvention) Name() string { return "entityset" }

func (entitySetConvention) AppliesToController(ctx *Context) bool {
	return ctx.EntitySet != nil
}

func (entitySetConvention) AppliesToAction(ctx *Context, a *Action) bool {
	method, rest, ok := verb(a.Name)
	if !ok {
		return false
	}
	set := ctx.EntitySet
	switch {
	case method == http.MethodGet && (rest == "" || rest == set.Name):
	case method == http.MethodPost && (rest == "" || rest == set.EntityType.Name):
	default:
		return false
	}
	if HasKeyParameter(a, set.EntityType, ctx.KeyPrefix) {
		return false
	}
	return bind(ctx, a, method, template.EntitySetSegment(set))
}

// entityConvention binds Get/Put/Patch/Delete (optionally suffixed with the
// entity type name) with key parameters to "Set({key})".
type entityConvention struct{}

func (entityConvention) Name() string { return "entity" }

func (entityConvention) AppliesToController(ctx *Context) bool {
	return ctx.EntitySet != nil
}

func (entityConvention) AppliesToAction(ctx *Context, a *Action) bool {
	method, rest, ok := verb(a.Name)
	if !ok || method == http.MethodPost {
		return false
	}
	set := ctx.EntitySet
	if rest != "" && rest != set.EntityType.Name {
		return false
	}
	if !HasKeyParameter(a, set.EntityType, ctx.KeyPrefix) {
		return false
	}
	return bind(ctx, a, method,
		template.EntitySetSegment(set),
		template.KeySegment(set.EntityType, ctx.KeyPrefix))
}

// singletonConvention binds Get/Put/Patch (optionally suffixed with the
// singleton name) to "Singleton".
type singletonConvention struct{}

func (singletonConvention) Name() string { return "singleton" }

func (singletonConvention) AppliesToController(ctx *Context) bool {
	return ctx.Singleton != nil
}

func (singletonConvention) AppliesToAction(ctx *Context, a *Action) bool {
	method, rest, ok := verb(a.Name)
	if !ok || method == http.MethodPost || method == http.MethodDelete {
		return false
	}
	if rest != "" && rest != ctx.Singleton.Name {
		return false
	}
	return bind(ctx, a, method, template.SingletonSegment(ctx.Singleton))
}

// navigationConvention binds Get{Nav} to "Set({key})/Nav" when the action
// has key parameters, or "Singleton/Nav".
type navigationConvention struct{}

func (navigationConvention) Name() string { return "navigation" }

func (navigationConvention) AppliesToController(ctx *Context) bool {
	et := ctx.EntityType()
	return et != nil && len(et.Navigation) > 0
}

func (navigationConvention) AppliesToAction(ctx *Context, a *Action) bool {
	method, rest, ok := verb(a.Name)
	if !ok || method != http.MethodGet || rest == "" {
		return false
	}
	et := ctx.EntityType()
	nav, ok := et.NavigationProperty(rest)
	if !ok {
		return false
	}

	if ctx.Singleton != nil {
		return bind(ctx, a, method,
			template.SingletonSegment(ctx.Singleton),
			template.NavigationSegment(nav))
	}
	if !HasKeyParameter(a, et, ctx.KeyPrefix) {
		return false
	}
	return bind(ctx, a, method,
		template.EntitySetSegment(ctx.EntitySet),
		template.KeySegment(et, ctx.KeyPrefix),
		template.NavigationSegment(nav))
}

// operationConvention binds an action named after an operation bound to
// the controller's entity type. Entity-bound operations on an entity set
// need key parameters.
type operationConvention struct{}

func (operationConvention) Name() string { return "operation" }

func (operationConvention) AppliesToController(ctx *Context) bool {
	et := ctx.EntityType()
	return et != nil && len(ctx.Model.BoundOperations(et)) > 0
}

func (operationConvention) AppliesToAction(ctx *Context, a *Action) bool {
	et := ctx.EntityType()
	var op *edm.Operation
	for _, candidate := range ctx.Model.BoundOperations(et) {
		if candidate.Name == a.Name {
			op = candidate
			break
		}
	}
	if op == nil {
		return false
	}

	method := http.MethodPost
	if op.Kind == edm.OperationFunction {
		method = http.MethodGet
	}

	switch {
	case ctx.Singleton != nil:
		if op.BindingCollection {
			return false
		}
		return bind(ctx, a, method,
			template.SingletonSegment(ctx.Singleton),
			template.OperationSegment(op))
	case op.BindingCollection:
		return bind(ctx, a, method,
			template.EntitySetSegment(ctx.EntitySet),
			template.OperationSegment(op))
	default:
		if !HasKeyParameter(a, et, ctx.KeyPrefix) {
			return false
		}
		return bind(ctx, a, method,
			template.EntitySetSegment(ctx.EntitySet),
			template.KeySegment(et, ctx.KeyPrefix),
			template.OperationSegment(op))
	}
}
