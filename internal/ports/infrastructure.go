// Package ports defines the contracts between the application layer and
// the adapters that talk to model endpoints, vote storage and metrics
// backends.
package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-arena/internal/domain"
)

// ModelGateway fetches a completion for a (model, prompt) pair.
// Implementations handle endpoint fallback, retries and response
// normalization, and must return a *domain.GatewayError on failure.
type ModelGateway interface {
	// Fetch returns the non-empty completion text for prompt from model.
	//
	// Parameters:
	//   - ctx: Context for cancellation and deadline propagation
	//   - model: Identifier from the configured pool
	//   - prompt: Sanitized prompt text
	Fetch(ctx context.Context, model, prompt string) (string, error)
}

// VoteStore is the append-only log of vote events.
// Implementations assign ID and Timestamp themselves and ignore any values
// the caller set on the event.
type VoteStore interface {
	// Append durably persists ev and returns its new identifier.
	// An error means the write was not acknowledged and must be treated
	// as if the vote never happened.
	Append(ctx context.Context, ev domain.VoteEvent) (domain.VoteID, error)

	// Count returns the number of events ever stored.
	Count(ctx context.Context) (int64, error)

	// Scan calls fn for every stored event in timestamp order.
	// Returning an error from fn stops the scan and is returned as is.
	Scan(ctx context.Context, fn func(domain.VoteEvent) error) error

	// FindByFingerprint returns events whose prompt fingerprint matches.
	FindByFingerprint(ctx context.Context, fingerprint string, limit int) ([]domain.VoteEvent, error)

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]domain.VoteEvent, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// StatsStore holds the derived per-model counters.
// All mutation goes through Increment; no method overwrites individual
// counter fields, which keeps total == wins+losses+ties per record.
type StatsStore interface {
	// Increment upserts each delta's record (zero counters when absent) and
	// atomically adds the delta to it. Each record's update is atomic on its
	// own; whether the set of deltas is applied atomically as a group is
	// reported by AtomicPairs.
	Increment(ctx context.Context, deltas ...domain.StatDelta) error

	// AtomicPairs reports whether Increment applies multiple deltas as one unit.
	AtomicPairs() bool

	// All returns every record, including ones with empty model keys.
	All(ctx context.Context) ([]domain.ModelStatRecord, error)

	// Replace swaps the full record set for records in one operation where the
	// engine allows it. It is used by rebuild only.
	Replace(ctx context.Context, records []domain.ModelStatRecord) error

	// RemoveInvalid deletes records whose model key is null, empty or missing.
	RemoveInvalid(ctx context.Context) (CleanupCounts, error)
}

// CleanupCounts breaks down the records removed by StatsStore.RemoveInvalid.
type CleanupCounts struct {
	Null    int64 `json:"null"`
	Empty   int64 `json:"empty"`
	Missing int64 `json:"missing"`
}

// Total returns the number of removed records.
func (c CleanupCounts) Total() int64 { return c.Null + c.Empty + c.Missing }

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus,
// OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like votes, errors, cleanups, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// This is useful for tracking values like stored vote totals or
	// active sessions.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like response sizes.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

// RecordLatency implements MetricsCollector.
func (NopMetrics) RecordLatency(string, time.Duration, map[string]string) {}

// RecordCounter implements MetricsCollector.
func (NopMetrics) RecordCounter(string, float64, map[string]string) {}

// RecordGauge implements MetricsCollector.
func (NopMetrics) RecordGauge(string, float64, map[string]string) {}

// RecordHistogram implements MetricsCollector.
func (NopMetrics) RecordHistogram(string, float64, map[string]string) {}
