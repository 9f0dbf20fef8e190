package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/artpar/odatagate/adapters/metrics"
)

func TestRecordBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RecordBuild(12, 3*time.Millisecond)
	m.RecordBuild(14, time.Millisecond)

	if got := testutil.ToFloat64(m.RoutesBound); got != 14 {
		t.Errorf("RoutesBound = %v, want 14", got)
	}
	if got := testutil.ToFloat64(m.Builds); got != 2 {
		t.Errorf("Builds = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.BuildDuration); got != 1 {
		t.Errorf("BuildDuration series = %d, want 1", got)
	}
}

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ObserveRequest("GET", "odata/Customers({key})", 200, 5*time.Millisecond)
	m.ObserveRequest("GET", "odata/Customers({key})", 404, time.Millisecond)
	m.ObserveRequest("POST", "odata/Customers", 201, time.Millisecond)

	for _, status := range []string{"2xx", "4xx"} {
		if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "odata/Customers({key})", status)); got != 1 {
			t.Errorf("RequestsTotal{GET,%s} = %v, want 1", status, got)
		}
	}
	if got := testutil.CollectAndCount(m.RequestsTotal); got != 3 {
		t.Errorf("RequestsTotal series = %d, want 3", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{"odatagate_requests_total", "odatagate_request_duration_seconds"} {
		if !names[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestRecordConversionFailure(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.RecordConversionFailure("Edm.Int32")
	m.RecordConversionFailure("Edm.Int32")
	m.RecordConversionFailure("uint16")

	if got := testutil.ToFloat64(m.ConversionFailures.WithLabelValues("Edm.Int32")); got != 2 {
		t.Errorf("ConversionFailures{Edm.Int32} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConversionFailures.WithLabelValues("uint16")); got != 1 {
		t.Errorf("ConversionFailures{uint16} = %v, want 1", got)
	}
}

func TestRecordReload(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.RecordReload(nil)
	m.RecordReload(errors.New("bad model"))

	if got := testutil.ToFloat64(m.ConfigReloads); got != 1 {
		t.Errorf("ConfigReloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloadErrors); got != 1 {
		t.Errorf("ConfigReloadErrors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfigLastReload); got <= 0 {
		t.Errorf("ConfigLastReload = %v, want > 0", got)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		301: "3xx",
		400: "4xx",
		503: "5xx",
		0:   "none",
		101: "101",
	}
	for status, want := range tests {
		if got := metrics.StatusLabel(status); got != want {
			t.Errorf("StatusLabel(%d) = %q, want %q", status, got, want)
		}
	}
}
