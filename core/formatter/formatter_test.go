package formatter_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/artpar/odatagate/core/formatter"
)

// Helper function to create a route listing
func routes() formatter.Listing {
	return formatter.Listing{
		Kind:    "routes",
		Columns: []string{"method", "route", "parameters"},
		Rows: []map[string]any{
			{"method": "GET", "route": "/odata/Customers", "action": "Get"},
			{"method": "GET", "route": "/odata/Customers({key})", "parameters": []string{"key int32"}, "action": "GetCustomer"},
		},
	}
}

// ===========================================
// Registry Tests
// ===========================================

func TestRegistry(t *testing.T) {
	if got, want := formatter.List(), []string{"json", "table", "yaml"}; !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}

	f, ok := formatter.Get("")
	if !ok {
		t.Fatal("Get(\"\") should return the default formatter")
	}
	if f.Name() != "table" {
		t.Errorf("default formatter = %q, want %q", f.Name(), "table")
	}

	if _, ok := formatter.Get("csv"); ok {
		t.Error("Get(\"csv\") should not find a formatter")
	}

	r := formatter.NewRegistry()
	if err := r.Register(formatter.NewJSONFormatter()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(formatter.NewJSONFormatter()); err == nil {
		t.Error("Register() of a duplicate name should fail")
	}
	if _, ok := r.Get(""); ok {
		t.Error("default table formatter is not registered")
	}
}

// ===========================================
// Table Tests
// ===========================================

func TestTableFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := formatter.NewTableFormatter().FormatList(&buf, routes(), formatter.FormatOptions{}); err != nil {
		t.Fatalf("FormatList() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	if got, want := strings.Fields(lines[0]), []string{"METHOD", "ROUTE", "PARAMETERS"}; !reflect.DeepEqual(got, want) {
		t.Errorf("header = %v, want %v", got, want)
	}
	if got, want := strings.Fields(lines[2]), []string{"GET", "/odata/Customers", "-"}; !reflect.DeepEqual(got, want) {
		t.Errorf("first row = %v, want %v", got, want)
	}
	if !strings.Contains(lines[3], "key int32") {
		t.Errorf("second row should list parameters, got %q", lines[3])
	}
	if strings.Contains(buf.String(), "GetCustomer") {
		t.Error("columns outside the listing should not be printed")
	}
}

func TestTableFormatter_Options(t *testing.T) {
	var buf bytes.Buffer
	opts := formatter.FormatOptions{Columns: []string{"route"}, NoHeader: true, MaxWidth: 10}
	if err := formatter.NewTableFormatter().FormatList(&buf, routes(), opts); err != nil {
		t.Fatalf("FormatList() error = %v", err)
	}
	if got, want := buf.String(), "/odata/...\n/odata/...\n"; got != want {
		t.Errorf("FormatList() = %q, want %q", got, want)
	}

	buf.Reset()
	if err := formatter.NewTableFormatter().FormatList(&buf, formatter.Listing{Kind: "routes"}, formatter.FormatOptions{}); err != nil {
		t.Fatalf("FormatList() error = %v", err)
	}
	if got, want := buf.String(), "No routes found.\n"; got != want {
		t.Errorf("FormatList() = %q, want %q", got, want)
	}
}

// ===========================================
// JSON / YAML Tests
// ===========================================

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := formatter.NewJSONFormatter().FormatList(&buf, routes(), formatter.FormatOptions{Compact: true}); err != nil {
		t.Fatalf("FormatList() error = %v", err)
	}

	var got struct {
		Kind  string           `json:"kind"`
		Count int              `json:"count"`
		Data  []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got.Kind != "routes" {
		t.Errorf("kind = %q, want %q", got.Kind, "routes")
	}
	if got.Count != 2 {
		t.Errorf("count = %d, want 2", got.Count)
	}
	if got.Data[1]["route"] != "/odata/Customers({key})" {
		t.Errorf("data[1].route = %v", got.Data[1]["route"])
	}
	if _, ok := got.Data[1]["action"]; ok {
		t.Error("columns outside the listing should not be written")
	}

	buf.Reset()
	if err := formatter.NewJSONFormatter().FormatError(&buf, errors.New("boom")); err != nil {
		t.Fatalf("FormatError() error = %v", err)
	}
	var e map[string]string
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil || e["error"] != "boom" {
		t.Errorf("FormatError() = %s, want {\"error\":\"boom\"}", buf.String())
	}
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := formatter.NewYAMLFormatter().FormatList(&buf, routes(), formatter.FormatOptions{}); err != nil {
		t.Fatalf("FormatList() error = %v", err)
	}

	var got map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if got["kind"] != "routes" {
		t.Errorf("kind = %v, want routes", got["kind"])
	}
	if got["count"] != 2 {
		t.Errorf("count = %v, want 2", got["count"])
	}
	data := got["data"].([]any)
	params := data[1].(map[string]any)["parameters"]
	if !reflect.DeepEqual(params, []any{"key int32"}) {
		t.Errorf("data[1].parameters = %v, want [key int32]", params)
	}
}
