// Package metrics wraps a dedicated Prometheus registry for the portal.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a Prometheus registry and exposes helpers for HTTP handlers.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a registry preloaded with default collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{registry: reg}
}

// Handler returns an HTTP handler that exposes Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	if r == nil || r.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Register allows callers to register custom collectors.
func (r *Registry) Register(c prometheus.Collector) {
	if r == nil || r.registry == nil {
		return
	}
	r.registry.MustRegister(c)
}

// RequestMetrics captures portal HTTP traffic broken down by route and status.
type RequestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRequestMetrics builds and registers the HTTP request collectors.
func NewRequestMetrics(r *Registry) *RequestMetrics {
	m := &RequestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests processed, partitioned by route and status code.",
		}, []string{"route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	if r != nil {
		r.Register(m.requests)
		r.Register(m.duration)
	}

	return m
}

// Observe records a completed request.
func (m *RequestMetrics) Observe(route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, statusLabel(status)).Inc()
	m.duration.WithLabelValues(route).Observe(seconds)
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
