// Package metrics exposes Prometheus counters and histograms for HTTP
// traffic, sample lifecycle transitions and row store calls.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Path is where Handler is mounted.
const Path = "/metrics"

// durationBuckets are HTTP request duration boundaries in seconds.
var durationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// Metrics holds every collector of the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	transitions *prometheus.CounterVec
	results     prometheus.Counter
	storeCalls  *prometheus.CounterVec
	retries     *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "britlab",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "britlab",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   durationBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "britlab",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "britlab",
			Name:      "sample_transitions_total",
			Help:      "Sample requests moved to a lifecycle status.",
		}, []string{"status"}),
		results: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "britlab",
			Name:      "sample_results_attached_total",
			Help:      "Result artifacts attached to accepted sample requests.",
		}),
		storeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "britlab",
			Subsystem: "store",
			Name:      "calls_total",
			Help:      "Row store calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "britlab",
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Row store attempts repeated after a transient failure.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.requests, m.duration, m.inFlight, m.transitions, m.results, m.storeCalls, m.retries)
	return m
}

// RecordTransition counts a lifecycle change.
func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// RecordResult counts an attached result.
func (m *Metrics) RecordResult() {
	if m == nil {
		return
	}
	m.results.Inc()
}

// RecordStoreCall counts one row store call.
func (m *Metrics) RecordStoreCall(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storeCalls.WithLabelValues(op, outcome).Inc()
}

// RecordStoreRetry counts a repeated store attempt.
func (m *Metrics) RecordStoreRetry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// Middleware records request count, latency and in-flight requests. Routes
// are labeled by their pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil || c.Path() == Path {
				return next(c)
			}
			m.inFlight.Inc()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			m.inFlight.Dec()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			code := strconv.Itoa(c.Response().Status)
			m.requests.WithLabelValues(method, route, code).Inc()
			m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	if m == nil {
		return echo.WrapHandler(promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}))
	}
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
