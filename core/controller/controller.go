// Package controller builds the default host controllers of a model.
//
// Every entity set gets list, create, read, replace, update and delete
// actions plus one action per navigation property and bound operation.
// Singletons get read, replace, update, navigation and operation actions.
// Action names and key parameters follow the routing conventions, so the
// convention builder binds all of them without attribute routes.
package controller

import (
	"context"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/odatagate/core/convention"
	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/serializer"
	"github.com/artpar/odatagate/core/storage"
	"github.com/artpar/odatagate/core/template"
)

// Invocation is the input of a bound operation.
type Invocation struct {
	Operation *edm.Operation

	// Source is the entity set or singleton the operation was invoked on.
	Source string

	// Entity is the binding entity; nil for collection-bound operations.
	Entity storage.Record

	// Parameters by name, converted to their declared host types.
	Parameters map[string]any

	Store storage.Store
}

// OperationFunc implements a bound operation. A nil result yields 204.
type OperationFunc func(ctx context.Context, inv *Invocation) (any, error)

// Factory builds controllers for a model.
type Factory struct {
	model      *edm.Model
	store      storage.Store
	serializer *serializer.Serializer
	logger     zerolog.Logger
	keyPrefix  string
	location   *time.Location

	keyTypes   map[string]reflect.Type
	operations map[string]OperationFunc
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Factory) { f.logger = logger }
}

// WithKeyPrefix sets the key parameter prefix; it must match the one given
// to the convention builder.
func WithKeyPrefix(prefix string) Option {
	return func(f *Factory) {
		if prefix != "" {
			f.keyPrefix = prefix
		}
	}
}

// WithLocation sets the zone used to bridge naive date/time parameters.
func WithLocation(loc *time.Location) Option {
	return func(f *Factory) { f.location = loc }
}

// WithKeyType declares the host type of a key property ("Customer.ID"),
// replacing the natural type of its kind.
func WithKeyType(entityType, property string, typ reflect.Type) Option {
	return func(f *Factory) { f.keyTypes[entityType+"."+property] = typ }
}

// WithOperation registers the implementation of a bound operation by its
// qualified name ("Demo.Rate").
func WithOperation(name string, fn OperationFunc) Option {
	return func(f *Factory) { f.operations[name] = fn }
}

// New creates a Factory.
func New(model *edm.Model, store storage.Store, ser *serializer.Serializer, opts ...Option) *Factory {
	f := &Factory{
		model:      model,
		store:      store,
		serializer: ser,
		logger:     zerolog.Nop(),
		keyPrefix:  template.DefaultKeyPrefix,
		keyTypes:   make(map[string]reflect.Type),
		operations: make(map[string]OperationFunc),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// EnsureTables creates the tables of every entity set and singleton.
func (f *Factory) EnsureTables(ctx context.Context) error {
	for _, set := range f.model.EntitySets {
		if err := f.store.EnsureTable(ctx, set.Name, set.EntityType); err != nil {
			return err
		}
	}
	for _, s := range f.model.Singletons {
		if err := f.store.EnsureTable(ctx, s.Name, s.EntityType); err != nil {
			return err
		}
	}
	return nil
}

// Application returns a new application holding the default controllers.
func (f *Factory) Application() *convention.Application {
	app := &convention.Application{}
	for _, set := range f.model.EntitySets {
		app.AddController(f.entitySetController(set))
	}
	for _, s := range f.model.Singletons {
		app.AddController(f.singletonController(s))
	}
	return app
}

func (f *Factory) entitySetController(set *edm.EntitySet) *convention.Controller {
	et := set.EntityType
	c := convention.NewController(set.Name)
	keys := f.keyParameters(et)

	c.AddAction(convention.NewAction("Get", f.list(set.Name), nil))
	c.AddAction(convention.NewAction("Post", f.create(set.Name, et), nil))
	c.AddAction(convention.NewAction("Get"+et.Name, f.read(set.Name), keys))
	c.AddAction(convention.NewAction("Put"+et.Name, f.replace(set.Name, et), keys))
	c.AddAction(convention.NewAction("Patch"+et.Name, f.update(set.Name, et), keys))
	c.AddAction(convention.NewAction("Delete"+et.Name, f.remove(set.Name), keys))

	for _, nav := range et.Navigation {
		c.AddAction(convention.NewAction("Get"+nav.Name, f.navigate(set.Name, et, nav), keys))
	}
	for _, op := range f.model.BoundOperations(et) {
		params := f.operationParameters(op)
		if !op.BindingCollection {
			params = append(keys, params...)
		}
		c.AddAction(convention.NewAction(op.Name, f.invoke(set.Name, op), params))
	}
	return c
}

func (f *Factory) singletonController(s *edm.Singleton) *convention.Controller {
	et := s.EntityType
	c := convention.NewController(s.Name)

	c.AddAction(convention.NewAction("Get", f.read(s.Name), nil))
	c.AddAction(convention.NewAction("Put", f.replace(s.Name, et), nil))
	c.AddAction(convention.NewAction("Patch", f.update(s.Name, et), nil))

	for _, nav := range et.Navigation {
		c.AddAction(convention.NewAction("Get"+nav.Name, f.navigate(s.Name, et, nav), nil))
	}
	for _, op := range f.model.BoundOperations(et) {
		if op.BindingCollection {
			continue
		}
		c.AddAction(convention.NewAction(op.Name, f.invoke(s.Name, op), f.operationParameters(op)))
	}
	return c
}

// keyParameters declares the key parameters of et by the key naming rule.
func (f *Factory) keyParameters(et *edm.EntityType) []convention.Parameter {
	keys := et.Key()
	params := make([]convention.Parameter, len(keys))
	for i, k := range keys {
		name := f.keyPrefix
		if len(keys) > 1 {
			name += k.Name
		}
		typ, ok := f.keyTypes[et.Name+"."+k.Name]
		if !ok {
			typ = k.Kind.Type()
		}
		params[i] = convention.Parameter{Name: name, Type: typ}
	}
	return params
}

func (f *Factory) operationParameters(op *edm.Operation) []convention.Parameter {
	params := make([]convention.Parameter, len(op.Parameters))
	for i, p := range op.Parameters {
		params[i] = convention.Parameter{Name: p.Name, Type: p.Kind.Type()}
	}
	return params
}
