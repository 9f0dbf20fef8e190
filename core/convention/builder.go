package convention

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/odatagate/core/edm"
)

// Recorder receives build statistics. adapters/metrics implements it.
type Recorder interface {
	RecordBuild(routes int, d time.Duration)
}

// Builder binds an Application against a model and freezes the result.
// A Builder is used from a single goroutine.
type Builder struct {
	model       *edm.Model
	prefix      string
	keyPrefix   string
	conventions []Convention
	logger      zerolog.Logger
	recorder    Recorder
}

// Option configures a Builder.
type Option func(*Builder)

// WithPrefix sets the route prefix ("odata" yields "odata/Customers").
func WithPrefix(prefix string) Option {
	return func(b *Builder) { b.prefix = strings.Trim(prefix, "/") }
}

// WithKeyPrefix sets the key parameter prefix.
func WithKeyPrefix(prefix string) Option {
	return func(b *Builder) { b.keyPrefix = prefix }
}

// WithConventions replaces the default conventions.
func WithConventions(conventions ...Convention) Option {
	return func(b *Builder) { b.conventions = conventions }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// WithRecorder sets the build statistics sink.
func WithRecorder(r Recorder) Option {
	return func(b *Builder) { b.recorder = r }
}

// NewBuilder creates a builder for model.
func NewBuilder(model *edm.Model, opts ...Option) *Builder {
	b := &Builder{
		model:       model,
		conventions: DefaultConventions(),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs the conventions over app once and freezes it. Argument
// errors raised while binding are returned rather than propagated.
func (b *Builder) Build(app *Application) (table *Table, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			argErr, ok := r.(*ArgumentError)
			if !ok {
				panic(r)
			}
			table, err = nil, fmt.Errorf("bind application: %w", argErr)
		}
	}()

	if app == nil {
		panic(&ArgumentError{Name: "app"})
	}
	if b.model == nil {
		panic(&ArgumentError{Name: "model"})
	}

	app.Resolve()
	bound := 0
	for _, c := range app.Controllers {
		ctx := b.contextFor(c)
		var applicable []Convention
		for _, conv := range b.conventions {
			if conv.AppliesToController(ctx) {
				applicable = append(applicable, conv)
			}
		}

		for _, a := range c.Actions {
			if !IsProtocolAction(a) {
				b.logger.Debug().
					Str("controller", c.Name).
					Str("action", a.Name).
					Msg("skipping non-protocol action")
				continue
			}
			for _, conv := range applicable {
				if conv.AppliesToAction(ctx, a) {
					bound++
					b.logger.Debug().
						Str("controller", c.Name).
						Str("action", a.Name).
						Str("convention", conv.Name()).
						Int("selectors", len(a.Selectors)).
						Msg("action bound")
					break
				}
			}
		}
	}

	table, err = Freeze(app)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	if b.recorder != nil {
		b.recorder.RecordBuild(table.Len(), elapsed)
	}
	b.logger.Info().
		Int("actions_bound", bound).
		Int("routes", table.Len()).
		Dur("duration", elapsed).
		Msg("routing table built")

	return table, nil
}

func (b *Builder) contextFor(c *Controller) *Context {
	ctx := &Context{
		Prefix:     b.prefix,
		KeyPrefix:  b.keyPrefix,
		Model:      b.model,
		Controller: c,
	}
	if rp, ok := GetAttribute[RoutePrefix](c); ok {
		ctx.Prefix = strings.Trim(rp.Prefix, "/")
	}
	if set, ok := b.model.EntitySet(c.Name); ok {
		ctx.EntitySet = set
	} else if s, ok := b.model.Singleton(c.Name); ok {
		ctx.Singleton = s
	}
	return ctx
}

// Endpoint is one (method, route) of a frozen application.
type Endpoint struct {
	Method     string
	Route      string
	Name       string
	Controller string
	Action     string
	Parameters []Parameter

	// Metadata is nil for attribute routes the conventions did not bind.
	Metadata *EndpointMetadata

	Handler http.HandlerFunc
}

// Table is the immutable routing table produced by Freeze. It is safe for
// concurrent reads.
type Table struct {
	endpoints []Endpoint
	index     map[string]int
}

// Freeze copies every routed selector of app into a Table. Two actions
// claiming the same method and route produce a ConflictError.
func Freeze(app *Application) (*Table, error) {
	t := &Table{index: make(map[string]int)}
	claims := make(map[string][]string)

	for _, c := range app.Controllers {
		for _, a := range c.Actions {
			methods := a.Methods
			if len(methods) == 0 {
				methods = []string{http.MethodGet}
			}
			for _, sel := range a.Selectors {
				if sel.Route == nil {
					continue
				}
				meta := lastMetadata(sel)
				for _, m := range methods {
					ep := Endpoint{
						Method:     strings.ToUpper(m),
						Route:      sel.Route.Template,
						Name:       sel.Route.Name,
						Controller: c.Name,
						Action:     a.Name,
						Parameters: append([]Parameter(nil), a.Parameters...),
						Metadata:   meta,
						Handler:    a.Handler,
					}
					key := endpointKey(ep.Method, ep.Route)
					claims[key] = append(claims[key], c.Name+"."+a.Name)
					if _, exists := t.index[key]; exists {
						continue
					}
					t.index[key] = len(t.endpoints)
					t.endpoints = append(t.endpoints, ep)
				}
			}
		}
	}

	var conflicts []Conflict
	for key, owners := range claims {
		if len(owners) > 1 {
			ep := t.endpoints[t.index[key]]
			conflicts = append(conflicts, Conflict{Method: ep.Method, Route: ep.Route, Claims: owners})
		}
	}
	if len(conflicts) > 0 {
		sort.Slice(conflicts, func(i, j int) bool {
			if conflicts[i].Route != conflicts[j].Route {
				return conflicts[i].Route < conflicts[j].Route
			}
			return conflicts[i].Method < conflicts[j].Method
		})
		return nil, &ConflictError{Conflicts: conflicts}
	}

	sort.SliceStable(t.endpoints, func(i, j int) bool {
		if t.endpoints[i].Route != t.endpoints[j].Route {
			return t.endpoints[i].Route < t.endpoints[j].Route
		}
		return t.endpoints[i].Method < t.endpoints[j].Method
	})
	for i, ep := range t.endpoints {
		t.index[endpointKey(ep.Method, ep.Route)] = i
	}

	return t, nil
}

func lastMetadata(sel *Selector) *EndpointMetadata {
	for i := len(sel.EndpointMetadata) - 1; i >= 0; i-- {
		if m, ok := sel.EndpointMetadata[i].(*EndpointMetadata); ok {
			return m
		}
	}
	return nil
}

func endpointKey(method, route string) string {
	return method + " " + route
}

// Len returns the number of endpoints.
func (t *Table) Len() int {
	return len(t.endpoints)
}

// Endpoints returns the endpoints sorted by route then method.
func (t *Table) Endpoints() []Endpoint {
	return append([]Endpoint(nil), t.endpoints...)
}

// Lookup finds the endpoint for a method and route template.
func (t *Table) Lookup(method, route string) (Endpoint, bool) {
	i, ok := t.index[endpointKey(strings.ToUpper(method), route)]
	if !ok {
		return Endpoint{}, false
	}
	return t.endpoints[i], true
}

// Conflict is one (method, route) claimed by more than one action.
type Conflict struct {
	Method string
	Route  string

	// Claims are "Controller.Action" names in discovery order.
	Claims []string
}

func (c Conflict) Error() string {
	return fmt.Sprintf("%s %s claimed by %s", c.Method, c.Route, strings.Join(c.Claims, ", "))
}

// ConflictError represents one or more route conflicts.
type ConflictError struct {
	Conflicts []Conflict
}

// Error returns the conflict error message.
func (e *ConflictError) Error() string {
	var msgs []string
	for _, c := range e.Conflicts {
		msgs = append(msgs, c.Error())
	}
	return fmt.Sprintf("route conflicts detected:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasConflicts returns true if there are any conflicts.
func (e *ConflictError) HasConflicts() bool {
	return len(e.Conflicts) > 0
}
