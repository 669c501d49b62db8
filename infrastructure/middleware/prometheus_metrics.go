// Package middleware provides cross-cutting concerns for the arena.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-arena/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It tracks vote throughput, gateway health and stats maintenance.
type PrometheusMetrics struct {
	votes             *prometheus.CounterVec
	votesRejected     *prometheus.CounterVec
	gatewayRequests   *prometheus.CounterVec
	endpointRequests  *prometheus.CounterVec
	endpointLatency   *prometheus.HistogramVec
	operationLatency  *prometheus.HistogramVec
	operationCounter  *prometheus.CounterVec
	systemGauges      *prometheus.GaugeVec
	genericHistograms *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the arena metric families and registers them
// with reg. A nil reg uses the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Vote metrics.
		votes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_votes_total",
				Help: "Votes recorded, by outcome.",
			},
			[]string{"outcome"},
		),
		votesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_votes_rejected_total",
				Help: "Votes that were not recorded, by reason.",
			},
			[]string{"reason"},
		),

		// Gateway metrics.
		gatewayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_gateway_requests_total",
				Help: "Model fetches by final status.",
			},
			[]string{"model", "status"},
		),
		endpointRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_gateway_endpoint_requests_total",
				Help: "Backend calls per endpoint by outcome.",
			},
			[]string{"endpoint", "model", "status"},
		),
		endpointLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arena_gateway_endpoint_latency_seconds",
				Help:    "Latency of single backend calls.",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"endpoint", "model", "status"},
		),

		// General metrics.
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arena_operation_duration_seconds",
				Help:    "Execution time of arena operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_operations_total",
				Help: "Counters without a dedicated family, such as stats failures and cleanups.",
			},
			[]string{"metric"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "arena_system_state",
				Help: "Current values such as stored votes and live sessions.",
			},
			[]string{"metric"},
		),
		genericHistograms: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arena_values",
				Help:    "Distributions without a dedicated family.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, _ map[string]string) {
	pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface. Known metrics go
// to their own family; anything else lands in arena_operations_total.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "votes_total":
		pm.votes.WithLabelValues(label(labels, "outcome")).Add(value)
	case "votes_rejected_total":
		pm.votesRejected.WithLabelValues(label(labels, "reason")).Add(value)
	case "gateway_requests_total":
		pm.gatewayRequests.WithLabelValues(label(labels, "model"), label(labels, "status")).Add(value)
	case "gateway_endpoint_requests_total":
		pm.endpointRequests.WithLabelValues(
			label(labels, "endpoint"),
			label(labels, "model"),
			label(labels, "status"),
		).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	if metric == "gateway_endpoint_latency_seconds" {
		pm.endpointLatency.WithLabelValues(
			label(labels, "endpoint"),
			label(labels, "model"),
			label(labels, "status"),
		).Observe(value)
		return
	}
	pm.genericHistograms.WithLabelValues(metric).Observe(value)
}

func label(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return "unknown"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
