package serializer

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/odatagate/core/convention"
	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/primitive"
	"github.com/artpar/odatagate/core/selflink"
	"github.com/artpar/odatagate/core/template"
	"github.com/artpar/odatagate/pkg/odataerr"
)

func testModel(t *testing.T) *edm.Model {
	t.Helper()
	m, err := edm.Parse([]byte(`
namespace: Demo
entity_types:
  Customer:
    key: [ID]
    properties:
      ID:    { type: Edm.Int32 }
      Name:  { type: Edm.String }
      Since: { type: Edm.Date }
    navigation:
      Orders: { target: Order, collection: true }
  Order:
    key: [ID]
    properties:
      ID:      { type: Edm.Int32 }
      Timeout: { type: Edm.Duration }
singletons:
  Me: Customer
operations:
  Count:
    kind: function
    bound_to: Customer
    collection: true
    returns: Edm.Int64
`))
	require.NoError(t, err)
	return m
}

func must[T any](v T, ok bool) T {
	if !ok {
		panic("lookup failed")
	}
	return v
}

func request(t *testing.T, m *edm.Model, tmpl *template.PathTemplate, accept string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "http://example.com/odata/x", nil)
	if accept != "" {
		r.Header.Set("Accept", accept)
	}
	ep := &convention.Endpoint{Metadata: &convention.EndpointMetadata{Prefix: "odata", Model: m, Template: tmpl}}
	return r.WithContext(convention.WithEndpoint(r.Context(), ep))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func customerByKey(m *edm.Model) *template.PathTemplate {
	set := must(m.EntitySet("Customers"))
	return template.MustNew(template.EntitySetSegment(set), template.KeySegment(set.EntityType, ""))
}

var typeOfChar = reflect.TypeOf(primitive.Char(0))

var alice = Entity{"ID": int32(1), "Name": "Alice", "Since": primitive.Date{Year: 2020, Month: time.March, Day: 4}}

func TestParseMetadataLevel(t *testing.T) {
	tests := []struct {
		accept string
		want   MetadataLevel
		err    bool
	}{
		{"", MetadataMinimal, false},
		{"application/json", MetadataMinimal, false},
		{"application/json;odata.metadata=full", MetadataFull, false},
		{"application/json; odata.metadata=NONE", MetadataNone, false},
		{"text/html, application/json;odata.metadata=full;odata.streaming=true", MetadataFull, false},
		{"application/json;odata.metadata=verbose", MetadataMinimal, true},
	}

	for _, tt := range tests {
		got, err := ParseMetadataLevel(tt.accept)
		if tt.err {
			assert.Error(t, err, tt.accept)
			continue
		}
		require.NoError(t, err, tt.accept)
		assert.Equal(t, tt.want, got, tt.accept)
	}
}

func TestRequestMetadataLevel_FormatOverridesAccept(t *testing.T) {
	tests := []struct {
		query string
		want  MetadataLevel
	}{
		{"$format=json;odata.metadata=none", MetadataNone},
		{"$format=application/json;odata.metadata=none", MetadataNone},
		{"$format=application%2Fjson%3Bodata.metadata%3Dminimal", MetadataMinimal},
		{"$top=1&$format=json;odata.metadata=none&x=y", MetadataNone},
		{"$format=json", MetadataMinimal},
		{"other=json;odata.metadata=none", MetadataFull},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		r.Header.Set("Accept", "application/json;odata.metadata=full")
		level, err := RequestMetadataLevel(r)
		require.NoError(t, err, tt.query)
		assert.Equal(t, tt.want, level, tt.query)
	}
}

func TestWriteEntity_FormatQueryOption(t *testing.T) {
	m := testModel(t)
	r := httptest.NewRequest(http.MethodGet, "http://example.com/odata/x?$format=json;odata.metadata=none", nil)
	r.Header.Set("Accept", "application/json;odata.metadata=full")
	ep := &convention.Endpoint{Metadata: &convention.EndpointMetadata{Prefix: "odata", Model: m, Template: customerByKey(m)}}
	r = r.WithContext(convention.WithEndpoint(r.Context(), ep))

	rec := httptest.NewRecorder()
	New(Config{}).WriteEntity(rec, r, http.StatusOK, alice)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json;odata.metadata=none", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"ID":1,"Name":"Alice","Since":"2020-03-04"}`, rec.Body.String())
}

func TestWriteEntity_ConventionLinksOnlyAtFull(t *testing.T) {
	m := testModel(t)
	s := New(Config{})

	tests := []struct {
		accept      string
		wantContext bool
		wantLinks   bool
	}{
		{"application/json;odata.metadata=minimal", true, false},
		{"application/json;odata.metadata=full", true, true},
		{"application/json;odata.metadata=none", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.WriteEntity(rec, request(t, m, customerByKey(m), tt.accept), http.StatusOK, alice)

			require.Equal(t, http.StatusOK, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, "Alice", body["Name"])
			assert.Equal(t, "2020-03-04", body["Since"])

			if tt.wantContext {
				assert.Equal(t, "http://example.com/odata/$metadata#Customers/$entity", body["@odata.context"])
			} else {
				assert.NotContains(t, body, "@odata.context")
			}
			if tt.wantLinks {
				assert.Equal(t, "http://example.com/odata/Customers(1)", body["@odata.id"])
				assert.Equal(t, "http://example.com/odata/Customers(1)", body["@odata.editLink"])
				assert.Equal(t, "#Demo.Customer", body["@odata.type"])
				assert.NotContains(t, body, "@odata.readLink", "read link equal to edit link is omitted")
			} else {
				assert.NotContains(t, body, "@odata.id")
				assert.NotContains(t, body, "@odata.editLink")
			}
		})
	}
}

func TestWriteEntity_CustomLinksAlwaysEmitted(t *testing.T) {
	m := testModel(t)
	links := selflink.NewRegistry()
	require.NoError(t, links.Set("Customers", selflink.Links{
		ID: selflink.NewIDBuilder(func(ctx *selflink.ResourceContext) string {
			return "urn:customer:" + ctx.Values["Name"].(string)
		}, false),
		Read: selflink.NewLinkBuilder(func(*selflink.ResourceContext) *url.URL {
			return &url.URL{Scheme: "https", Host: "cdn.example.com", Path: "/c/1"}
		}, false),
	}))
	links.Freeze()
	s := New(Config{Links: links})

	for _, accept := range []string{"", "application/json;odata.metadata=none"} {
		rec := httptest.NewRecorder()
		s.WriteEntity(rec, request(t, m, customerByKey(m), accept), http.StatusOK, alice)
		body := decode(t, rec)

		assert.Equal(t, "urn:customer:Alice", body["@odata.id"], accept)
		assert.Equal(t, "https://cdn.example.com/c/1", body["@odata.readLink"], accept)
		assert.NotContains(t, body, "@odata.editLink", "convention edit link stays suppressed")
	}
}

func TestWriteEntity_PropertyOrder(t *testing.T) {
	m := testModel(t)
	rec := httptest.NewRecorder()
	New(Config{}).WriteEntity(rec, request(t, m, customerByKey(m), "application/json;odata.metadata=none"), http.StatusCreated, alice)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json;odata.metadata=none", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"ID":1,"Name":"Alice","Since":"2020-03-04"}`, rec.Body.String())
}

func TestWriteCollection(t *testing.T) {
	m := testModel(t)
	set := must(m.EntitySet("Customers"))
	tmpl := template.MustNew(template.EntitySetSegment(set))

	rec := httptest.NewRecorder()
	New(Config{}).WriteCollection(rec, request(t, m, tmpl, ""), []Entity{alice, {"ID": int32(2), "Name": "Bob"}})

	body := decode(t, rec)
	assert.Equal(t, "http://example.com/odata/$metadata#Customers", body["@odata.context"])
	values := body["value"].([]any)
	require.Len(t, values, 2)
	assert.Equal(t, "Bob", values[1].(map[string]any)["Name"])
}

func TestWriteCollection_Navigation(t *testing.T) {
	m := testModel(t)
	set := must(m.EntitySet("Customers"))
	nav := must(set.EntityType.NavigationProperty("Orders"))
	tmpl := template.MustNew(template.EntitySetSegment(set), template.KeySegment(set.EntityType, ""), template.NavigationSegment(nav))

	rec := httptest.NewRecorder()
	New(Config{}).WriteCollection(rec, request(t, m, tmpl, "application/json;odata.metadata=full"),
		[]Entity{{"ID": int32(9), "Timeout": 90 * time.Minute}})

	body := decode(t, rec)
	assert.Equal(t, "http://example.com/odata/$metadata#Orders", body["@odata.context"])
	order := body["value"].([]any)[0].(map[string]any)
	assert.Equal(t, "http://example.com/odata/Orders(9)", order["@odata.id"])
	assert.Equal(t, "PT1H30M", order["Timeout"])
}

func TestWriteEntity_Singleton(t *testing.T) {
	m := testModel(t)
	tmpl := template.MustNew(template.SingletonSegment(must(m.Singleton("Me"))))

	rec := httptest.NewRecorder()
	New(Config{}).WriteEntity(rec, request(t, m, tmpl, "application/json;odata.metadata=full"), http.StatusOK, alice)

	body := decode(t, rec)
	assert.Equal(t, "http://example.com/odata/$metadata#Me", body["@odata.context"])
	assert.Equal(t, "http://example.com/odata/Me", body["@odata.id"])
}

func TestWriteValue(t *testing.T) {
	m := testModel(t)
	set := must(m.EntitySet("Customers"))
	tmpl := template.MustNew(template.EntitySetSegment(set), template.OperationSegment(must(m.Operation("Count"))))
	s := New(Config{})

	rec := httptest.NewRecorder()
	s.WriteValue(rec, request(t, m, tmpl, ""), uint32(42))
	body := decode(t, rec)
	assert.Equal(t, "http://example.com/odata/$metadata#Edm.Int64", body["@odata.context"])
	assert.Equal(t, float64(42), body["value"])

	rec = httptest.NewRecorder()
	s.WriteValue(rec, request(t, m, tmpl, ""), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWriteEntity_WithoutMetadata(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/legacy", nil)
	rec := httptest.NewRecorder()
	New(Config{}).WriteEntity(rec, r, http.StatusOK, Entity{"b": primitive.Char('x'), "a": uint16(3)})
	assert.Equal(t, `{"a":3,"b":"x"}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	s := New(Config{})
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	_, verr := primitive.Convert("123", typeOfChar, nil)
	require.Error(t, verr)

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{odataerr.NotFound("entity"), http.StatusNotFound, "NotFound"},
		{verr, http.StatusBadRequest, "ValidationError"},
		{errors.New("boom"), http.StatusInternalServerError, "InternalError"},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.WriteError(rec, r, tt.err)
		assert.Equal(t, tt.status, rec.Code)
		decoded, err := odataerr.Decode(rec.Body.Bytes())
		require.NoError(t, err)
		assert.Equal(t, tt.code, decoded.Code)
	}
}

func TestWriteEntity_Errors(t *testing.T) {
	m := testModel(t)
	s := New(Config{})

	rec := httptest.NewRecorder()
	s.WriteEntity(rec, request(t, m, customerByKey(m), "application/json;odata.metadata=bogus"), http.StatusOK, alice)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)

	rec = httptest.NewRecorder()
	s.WriteEntity(rec, request(t, m, customerByKey(m), ""), http.StatusOK, Entity{"ID": int32(1), "Name": math.NaN()})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBaseURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://internal:8080/x", nil)
	assert.Equal(t, "http://internal:8080", BaseURL(r).String())

	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "api.example.com")
	assert.Equal(t, "https://api.example.com", BaseURL(r).String())
}
