package convention

import "context"

type contextKey int

const (
	ctxEndpoint contextKey = iota
	ctxRouteValues
)

// RouteValues holds the converted route parameters of a request, keyed by
// parameter name.
type RouteValues map[string]any

// WithEndpoint returns a context carrying the matched endpoint.
func WithEndpoint(ctx context.Context, ep *Endpoint) context.Context {
	return context.WithValue(ctx, ctxEndpoint, ep)
}

// EndpointFrom returns the matched endpoint, or nil.
func EndpointFrom(ctx context.Context) *Endpoint {
	ep, _ := ctx.Value(ctxEndpoint).(*Endpoint)
	return ep
}

// WithRouteValues returns a context carrying converted route values.
func WithRouteValues(ctx context.Context, values RouteValues) context.Context {
	return context.WithValue(ctx, ctxRouteValues, values)
}

// RouteValuesFrom returns the converted route values, or nil.
func RouteValuesFrom(ctx context.Context) RouteValues {
	v, _ := ctx.Value(ctxRouteValues).(RouteValues)
	return v
}
