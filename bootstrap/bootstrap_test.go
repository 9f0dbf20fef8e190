package bootstrap_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/odatagate/bootstrap"
	"github.com/artpar/odatagate/config"
	"github.com/artpar/odatagate/core/controller"
)

const modelYAML = `
namespace: Demo
entity_types:
  Customer:
    key: [ID]
    properties:
      ID:   { type: Edm.Int32 }
      Name: { type: Edm.String }
operations:
  Rate:
    kind: action
    bound_to: Customer
    parameters:
      - { name: stars, type: Edm.Int32 }
`

const configYAML = `
routing:
  prefix: odata
model:
  path: model.yaml
database:
  dsn: ":memory:"
`

func writeWorkspace(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.yaml"), []byte(modelYAML), 0644))
	path := filepath.Join(dir, "odatagate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func newApp(t *testing.T, opts ...bootstrap.Option) (*bootstrap.App, string) {
	t.Helper()
	path := writeWorkspace(t, configYAML)
	opts = append([]bootstrap.Option{
		bootstrap.WithLogger(zerolog.Nop()),
		bootstrap.WithRegistry(prometheus.NewRegistry()),
	}, opts...)

	app, err := bootstrap.NewWithHotReload(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown() })
	return app, path
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "http://example.com"+target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_ServesModel(t *testing.T) {
	app, _ := newApp(t)
	h := app.Handler()

	rec := do(t, h, http.MethodPost, "/odata/Customers", `{"ID": 1, "Name": "Ada"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/odata/Customers(1)", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"Name":"Ada"`)

	assert.Equal(t, "Demo", app.Model().Namespace)
	assert.Equal(t, float64(app.Table().Len()), testutil.ToFloat64(app.Metrics.RoutesBound))

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "odatagate_routes_bound")
	assert.Contains(t, rec.Body.String(), "odatagate_requests_total")
}

func TestNew_Operation(t *testing.T) {
	stars := make(chan any, 1)
	app, _ := newApp(t,
		bootstrap.WithKeyType("Customer", "ID", reflect.TypeOf(uint16(0))),
		bootstrap.WithOperation("Demo.Rate", func(ctx context.Context, inv *controller.Invocation) (any, error) {
			stars <- inv.Parameters["stars"]
			return nil, nil
		}),
	)
	h := app.Handler()

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/odata/Customers", `{"ID": 7, "Name": "Bo"}`).Code)

	rec := do(t, h, http.MethodPost, "/odata/Customers(7)/Demo.Rate", `{"stars": 5}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, int32(5), <-stars)

	// key declared as uint16
	rec = do(t, h, http.MethodGet, "/odata/Customers(-7)", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(app.Metrics.ConversionFailures.WithLabelValues("uint16")))
}

func TestReload_Republishes(t *testing.T) {
	app, path := newApp(t)
	h := app.Handler()
	before := app.Table()

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(configYAML, "prefix: odata", "prefix: v2", 1)), 0644))
	require.NoError(t, app.Reload())

	assert.NotSame(t, before, app.Table())
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v2/Customers", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/odata/Customers", "").Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(app.Metrics.ConfigReloads))
}

func TestReload_BrokenModelKeepsTable(t *testing.T) {
	app, path := newApp(t)
	h := app.Handler()
	before := app.Table()

	model := filepath.Join(filepath.Dir(path), "model.yaml")
	require.NoError(t, os.WriteFile(model, []byte("namespace: Demo\nentity_types: {Customer: {key: [Missing]}}\n"), 0644))

	require.Error(t, app.Reload())
	assert.Same(t, before, app.Table())
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/odata/Customers", "").Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(app.Metrics.ConfigReloadErrors))
}

func TestNew_WithoutHotReload(t *testing.T) {
	path := writeWorkspace(t, configYAML+"metrics:\n  enabled: false\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	app, err := bootstrap.New(cfg, bootstrap.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer app.Shutdown()

	assert.Nil(t, app.Metrics)
	assert.Error(t, app.Reload())
	assert.Equal(t, http.StatusNotFound, do(t, app.Handler(), http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusOK, do(t, app.Handler(), http.MethodGet, "/odata/Customers", "").Code)
}

func TestNew_MissingModel(t *testing.T) {
	path := writeWorkspace(t, strings.Replace(configYAML, "model.yaml", "absent.yaml", 1))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	_, err = bootstrap.New(cfg, bootstrap.WithLogger(zerolog.Nop()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load model")
}

func TestRoutes(t *testing.T) {
	cfg, err := config.Load(writeWorkspace(t, configYAML))
	require.NoError(t, err)

	table, err := bootstrap.Routes(cfg)
	require.NoError(t, err)

	var routes []string
	for _, ep := range table.Endpoints() {
		routes = append(routes, ep.Method+" "+ep.Route)
	}
	assert.Contains(t, routes, "GET odata/Customers")
	assert.Contains(t, routes, "GET odata/Customers({key})")
	assert.Contains(t, routes, "POST odata/Customers({key})/Demo.Rate")
}
