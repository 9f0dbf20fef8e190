// Package metrics provides Prometheus metrics collection for odatagate.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for odatagate.
type Collector struct {
	// Routing metrics
	RoutesBound   prometheus.Gauge
	BuildDuration prometheus.Histogram
	Builds        prometheus.Counter

	// Conversion metrics
	ConversionFailures *prometheus.CounterVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RoutesBound: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "odatagate",
				Name:      "routes_bound",
				Help:      "Number of routes in the published endpoint table",
			},
		),
		BuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "odatagate",
				Name:      "route_build_duration_seconds",
				Help:      "Time spent binding conventions and freezing the endpoint table",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
		Builds: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "odatagate",
				Name:      "route_builds_total",
				Help:      "Total number of endpoint table builds",
			},
		),
		ConversionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "odatagate",
				Name:      "conversion_failures_total",
				Help:      "Route values that could not be converted, by target type",
			},
			[]string{"target"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "odatagate",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "odatagate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "odatagate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "odatagate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of failed config reloads",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "odatagate",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// RecordBuild records one endpoint table build.
func (c *Collector) RecordBuild(routes int, d time.Duration) {
	c.Builds.Inc()
	c.RoutesBound.Set(float64(routes))
	c.BuildDuration.Observe(d.Seconds())
}

// RecordConversionFailure counts a route value that failed to convert to
// target.
func (c *Collector) RecordConversionFailure(target string) {
	c.ConversionFailures.WithLabelValues(target).Inc()
}

// ObserveRequest records a served request. route is the endpoint template,
// which keeps label cardinality bounded.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	code := StatusLabel(status)
	c.RequestsTotal.WithLabelValues(method, route, code).Inc()
	c.RequestDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// RecordReload records the outcome of a config reload.
func (c *Collector) RecordReload(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

// StatusLabel returns a string label for the status code.
func StatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status == 0:
		return "none"
	default:
		return strconv.Itoa(status)
	}
}
