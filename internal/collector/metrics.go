package collector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/strongaya/federated-data-portal/pkg/metrics"
)

// Metrics tracks the refresh loop.
type Metrics struct {
	fetchDuration prometheus.Histogram
	fetchErrors   prometheus.Counter
	lastSuccess   prometheus.Gauge
	snapshots     prometheus.Gauge
}

// NewMetrics builds and registers the collector's collectors.
func NewMetrics(r *metrics.Registry) *Metrics {
	m := &Metrics{
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "collector",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching collaboration descriptives.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "collector",
			Name:      "fetch_errors_total",
			Help:      "Failed descriptives fetches.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "collector",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch.",
		}),
		snapshots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "collector",
			Name:      "snapshots",
			Help:      "Snapshots currently retained.",
		}),
	}

	if r != nil {
		r.Register(m.fetchDuration)
		r.Register(m.fetchErrors)
		r.Register(m.lastSuccess)
		r.Register(m.snapshots)
	}

	return m
}

func (m *Metrics) observeFetch(elapsed time.Duration, err error, retained int) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.fetchErrors.Inc()
		return
	}
	m.lastSuccess.SetToCurrentTime()
	m.snapshots.Set(float64(retained))
}
