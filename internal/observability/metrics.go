// Package observability provides Prometheus metrics for the lifecycle engine.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Submission metrics
	Submissions *prometheus.CounterVec

	// Reconciliation metrics
	Polls         *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	ActiveOrders  prometheus.Gauge
	PollLatency   prometheus.Histogram
	StaleDiscards prometheus.Counter

	// Reindex metrics
	ReindexAttempts *prometheus.CounterVec

	// Analytics events emitted
	AnalyticsEvents *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on its own registry so
// several instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ramp_tracker"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submitter",
			Name:      "submissions_total",
			Help:      "Order submissions by outcome",
		}, []string{"outcome"}),
		Polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "polls_total",
			Help:      "Order status polls by result",
		}, []string{"result"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "transitions_total",
			Help:      "Status transitions by entered status",
		}, []string{"status"}),
		ActiveOrders: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "active_orders",
			Help:      "Orders currently being reconciled",
		}),
		PollLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "poll_duration_seconds",
			Help:      "Latency of order status polls",
			Buckets:   prometheus.DefBuckets,
		}),
		StaleDiscards: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "stale_results_discarded_total",
			Help:      "Persistence results dropped because a newer write was issued",
		}),
		ReindexAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reindex",
			Name:      "attempts_total",
			Help:      "Reindex calls by outcome",
		}, []string{"outcome"}),
		AnalyticsEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "events_total",
			Help:      "Analytics events emitted",
		}, []string{"event"}),
	}
}

// Handler serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
