// Package http serves a frozen endpoint table over HTTP.
//
// Each endpoint becomes one chi route. Before a handler runs, the route
// parameters are decoded as URI literals of their template kinds, bridged
// to the host types the action declares, and put on the request context
// together with the endpoint.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/odatagate/core/convention"
	"github.com/artpar/odatagate/core/primitive"
	"github.com/artpar/odatagate/pkg/odataerr"
)

// Metrics receives request and conversion observations.
type Metrics interface {
	ObserveRequest(method, route string, status int, d time.Duration)
	RecordConversionFailure(target string)
}

// Channel implements the HTTP channel.
type Channel struct {
	handler atomic.Pointer[chi.Mux]

	logger         zerolog.Logger
	metrics        Metrics
	metricsHandler http.Handler
	metricsPath    string
	location       *time.Location
	readTimeout    time.Duration
	writeTimeout   time.Duration
	requestTimeout time.Duration

	addr   string
	mu     sync.Mutex
	server *http.Server
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithMetrics records request metrics and, when handler is not nil, serves
// it at /metrics.
func WithMetrics(m Metrics, handler http.Handler) Option {
	return func(c *Channel) {
		c.metrics = m
		c.metricsHandler = handler
	}
}

// WithMetricsPath moves the metrics endpoint, "/metrics" by default.
func WithMetricsPath(path string) Option {
	return func(c *Channel) { c.metricsPath = path }
}

// WithLocation sets the zone used to bridge naive date/time parameters.
func WithLocation(loc *time.Location) Option {
	return func(c *Channel) { c.location = loc }
}

// WithTimeouts sets the server read and write timeouts and the per-request
// handler timeout. Zero leaves a timeout unset.
func WithTimeouts(read, write, request time.Duration) Option {
	return func(c *Channel) {
		c.readTimeout = read
		c.writeTimeout = write
		c.requestTimeout = request
	}
}

// New creates a channel listening on addr. An empty addr disables Start,
// which is useful when the channel is mounted elsewhere.
func New(addr string, opts ...Option) *Channel {
	c := &Channel{
		addr:        addr,
		logger:      zerolog.Nop(),
		metricsPath: "/metrics",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Publish builds a router for table and makes it visible to new requests
// in one step. Requests already running finish on the previous router.
func (c *Channel) Publish(table *convention.Table) (err error) {
	defer func() {
		// chi panics on malformed patterns
		if r := recover(); r != nil {
			err = fmt.Errorf("publish routes: %v", r)
		}
	}()

	router := c.newRouter()
	for _, ep := range table.Endpoints() {
		router.Method(ep.Method, "/"+ep.Route, c.dispatch(ep))
	}
	c.handler.Store(router)

	c.logger.Info().Int("routes", table.Len()).Msg("route table published")
	return nil
}

func (c *Channel) newRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(routeLiterals)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(c.logRequests)
	r.Use(middleware.Recoverer)
	if c.requestTimeout > 0 {
		r.Use(middleware.Timeout(c.requestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		odataerr.Write(w, odataerr.NotFound("resource"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		odataerr.Write(w, odataerr.MethodNotAllowed(r.Method))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	if c.metricsHandler != nil {
		r.Handle(c.metricsPath, c.metricsHandler)
	}
	return r
}

// ServeHTTP dispatches to the most recently published router.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := c.handler.Load()
	if h == nil {
		odataerr.Write(w, odataerr.New(http.StatusServiceUnavailable, "ServiceUnavailable",
			"No routes have been published.").Build())
		return
	}
	h.ServeHTTP(w, r)
}

// Handler returns the channel as an http.Handler.
func (c *Channel) Handler() http.Handler {
	return c
}

// Start starts the HTTP server in the background.
func (c *Channel) Start(ctx context.Context) error {
	if c.addr == "" {
		return nil
	}

	c.mu.Lock()
	c.server = &http.Server{
		Addr:         c.addr,
		Handler:      c,
		ReadTimeout:  c.readTimeout,
		WriteTimeout: c.writeTimeout,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		c.logger.Info().Str("addr", c.addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Msg("http server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.mu.Unlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// dispatch converts route values and calls the endpoint handler.
func (c *Channel) dispatch(ep convention.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			if c.metrics != nil {
				c.metrics.ObserveRequest(r.Method, ep.Route, ww.Status(), time.Since(start))
			}
		}()

		values, err := c.routeValues(r, &ep)
		if err != nil {
			var oerr odataerr.Error
			if !errors.As(err, &oerr) {
				oerr = odataerr.BadRequest(err.Error())
			}
			odataerr.Write(ww, oerr)
			return
		}

		ctx := convention.WithEndpoint(r.Context(), &ep)
		ctx = convention.WithRouteValues(ctx, values)
		ep.Handler(ww, r.WithContext(ctx))
	}
}

// routeValues decodes every URL parameter of the matched route. Template
// parameters are parsed by kind; parameters the action declares are bridged
// to the declared type.
func (c *Channel) routeValues(r *http.Request, ep *convention.Endpoint) (convention.RouteValues, error) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil, nil
	}

	values := make(convention.RouteValues, len(rctx.URLParams.Keys))
	for i, name := range rctx.URLParams.Keys {
		text, err := url.PathUnescape(rctx.URLParams.Values[i])
		if err != nil {
			return nil, odataerr.InvalidParameter(name, fmt.Sprintf("The value of %s is not correctly escaped.", name))
		}

		var v any = text
		if ep.Metadata != nil {
			if p, ok := ep.Metadata.Template.Parameter(name); ok {
				parsed, err := primitive.ParseLiteral(p.Kind, text)
				if err != nil {
					c.recordFailure(p.Kind.String())
					return nil, invalidParameter(name, err)
				}
				v = parsed
			}
		}

		if decl, ok := declared(ep.Parameters, name); ok && decl.Type != nil {
			converted, err := primitive.Convert(v, decl.Type, c.location)
			if err != nil {
				c.recordFailure(decl.Type.String())
				return nil, invalidParameter(name, err)
			}
			v = converted
		}
		values[name] = v
	}
	return values, nil
}

// routeLiterals routes on an escaped path in which the delimiters inside
// quoted literals are percent-encoded, so a key such as 'a)b' or 'x,y'
// stays within its route parameter. routeValues unescapes the parameters.
func routeLiterals(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePath == "" {
			rctx.RoutePath = routingPath(r.URL)
		}
		next.ServeHTTP(w, r)
	})
}

// routingPath returns the escaped request path with '(', ')', ',', '=' and
// '/' escaped inside single-quoted literals. A quote may arrive as ' or
// %27; a doubled quote toggles twice and stays inside the literal.
func routingPath(u *url.URL) string {
	raw, escaped := u.RawPath, true
	if raw == "" {
		raw, escaped = u.Path, false
	}

	var b strings.Builder
	b.Grow(len(raw))
	quoted := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\'':
			quoted = !quoted
		case escaped && c == '%' && i+2 < len(raw) && strings.EqualFold(raw[i:i+3], "%27"):
			quoted = !quoted
			b.WriteString(raw[i : i+3])
			i += 2
			continue
		case !escaped && c == '%':
			b.WriteString("%25")
			continue
		case quoted && strings.IndexByte("(),=/", c) >= 0:
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (c *Channel) recordFailure(target string) {
	if c.metrics != nil {
		c.metrics.RecordConversionFailure(target)
	}
}

func declared(params []convention.Parameter, name string) (convention.Parameter, bool) {
	for _, p := range params {
		if p.Name == name {
			return p, true
		}
	}
	return convention.Parameter{}, false
}

func invalidParameter(name string, err error) odataerr.Error {
	var verr *primitive.ValidationError
	if !errors.As(err, &verr) {
		return odataerr.InvalidParameter(name, err.Error())
	}
	return odataerr.New(http.StatusBadRequest, "InvalidParameter", verr.Message).
		Target(name).
		Inner("constraint", verr.Constraint).
		Build()
}

func (c *Channel) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if r.URL.Path == c.metricsPath || strings.HasPrefix(r.URL.Path, "/health") {
			return
		}
		c.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
