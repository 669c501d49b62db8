package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ahrav/go-arena/internal/ports"
)

// newTestMetrics registers into a private registry so tests never collide
// on metric names.
func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

func TestNewPrometheusMetrics(t *testing.T) {
	pm, _ := newTestMetrics(t)

	assert.NotNil(t, pm.votes)
	assert.NotNil(t, pm.gatewayRequests)
	assert.NotNil(t, pm.endpointLatency)
	var _ ports.MetricsCollector = pm
}

func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	tests := []struct {
		name   string
		metric string
		labels map[string]string
		read   func(pm *PrometheusMetrics) prometheus.Collector
	}{
		{
			name:   "votes by outcome",
			metric: "votes_total",
			labels: map[string]string{"outcome": "A"},
			read:   func(pm *PrometheusMetrics) prometheus.Collector { return pm.votes.WithLabelValues("A") },
		},
		{
			name:   "rejections by reason",
			metric: "votes_rejected_total",
			labels: map[string]string{"reason": "store"},
			read:   func(pm *PrometheusMetrics) prometheus.Collector { return pm.votesRejected.WithLabelValues("store") },
		},
		{
			name:   "gateway fetch status",
			metric: "gateway_requests_total",
			labels: map[string]string{"model": "mistral", "status": "cooldown"},
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.gatewayRequests.WithLabelValues("mistral", "cooldown")
			},
		},
		{
			name:   "endpoint call with missing label",
			metric: "gateway_endpoint_requests_total",
			labels: map[string]string{"endpoint": "primary", "status": "success"},
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.endpointRequests.WithLabelValues("primary", "unknown", "success")
			},
		},
		{
			name:   "unknown metric falls back to operations",
			metric: "stats_update_failures_total",
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.operationCounter.WithLabelValues("stats_update_failures_total")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, _ := newTestMetrics(t)

			pm.RecordCounter(tt.metric, 2, tt.labels)

			assert.Equal(t, 2.0, testutil.ToFloat64(tt.read(pm)))
		})
	}
}

func TestPrometheusMetrics_GaugeAndHistograms(t *testing.T) {
	pm, reg := newTestMetrics(t)

	pm.RecordGauge("votes_stored", 42, nil)
	pm.RecordGauge("votes_stored", 43, nil)
	pm.RecordLatency("submit_vote", 150*time.Millisecond, nil)
	pm.RecordHistogram("gateway_endpoint_latency_seconds", 1.5,
		map[string]string{"endpoint": "primary", "model": "m", "status": "success"})
	pm.RecordHistogram("response_bytes", 512, nil)

	assert.Equal(t, 43.0, testutil.ToFloat64(pm.systemGauges.WithLabelValues("votes_stored")))

	n, err := testutil.GatherAndCount(reg,
		"arena_operation_duration_seconds",
		"arena_gateway_endpoint_latency_seconds",
		"arena_values",
	)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}
