package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DurationBuckets are the request latency histogram bounds in seconds.
var DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

const (
	dropQueueFull   = "queue_full"
	dropBreakerOpen = "breaker_open"
	dropShutdown    = "shutdown"
)

// Metrics holds the service collectors, registered into a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	spansDropped *prometheus.CounterVec
}

// NewMetrics registers the collectors into reg, or into a new registry when
// reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_requests_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: DurationBuckets,
			},
			[]string{"method", "path", "status"},
		),
		spansDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otel_spans_dropped_total",
				Help: "Spans discarded before export",
			},
			[]string{"reason"},
		),
	}
	reg.MustRegister(
		m.requests,
		m.duration,
		m.spansDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, reason := range []string{dropQueueFull, dropBreakerOpen, dropShutdown} {
		m.spansDropped.WithLabelValues(reason)
	}
	return m
}

// RecordRequest observes one finished request.
func (m *Metrics) RecordRequest(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(method, path, code).Inc()
	m.duration.WithLabelValues(method, path, code).Observe(d.Seconds())
}

// SpansDropped counts n spans discarded for reason.
func (m *Metrics) SpansDropped(reason string, n int) {
	m.spansDropped.WithLabelValues(reason).Add(float64(n))
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text or OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.registry,
	})
}
