package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// RebuildReport summarizes a statistics rebuild.
type RebuildReport struct {
	// Events is the number of events read from the log.
	Events int `json:"events"`
	// Skipped is the number of events that failed validation and were ignored.
	Skipped int `json:"skipped"`
	// Models is the number of records written.
	Models int `json:"models"`
	// Duration is how long the rebuild took.
	Duration time.Duration `json:"duration"`
}

// CleanupReport summarizes a cleanup of invalid statistics records.
type CleanupReport struct {
	ports.CleanupCounts
	// Removed is the total number of records deleted.
	Removed int64 `json:"removed"`
}

// StatsAggregator keeps the derived per-model counters in step with the
// vote log.
type StatsAggregator struct {
	stats   ports.StatsStore
	logger  *zap.Logger
	metrics ports.MetricsCollector
}

// NewStatsAggregator creates an aggregator over stats.
func NewStatsAggregator(stats ports.StatsStore, logger *zap.Logger, metrics ports.MetricsCollector) *StatsAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &StatsAggregator{stats: stats, logger: logger, metrics: metrics}
}

// Apply folds one acknowledged vote event into the counters.
func (a *StatsAggregator) Apply(ctx context.Context, ev domain.VoteEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("apply vote: %w", err)
	}

	deltas := domain.DeltasFor(ev)
	if err := a.stats.Increment(ctx, deltas[0], deltas[1]); err != nil {
		var se *domain.StatsError
		if errors.As(err, &se) {
			return err
		}
		return domain.NewStatsError(ev.ModelA+","+ev.ModelB, err)
	}
	return nil
}

// Rebuild recomputes every record from events and replaces the store
// contents. Running it twice over the same events yields identical records.
func (a *StatsAggregator) Rebuild(ctx context.Context, events []domain.VoteEvent) (RebuildReport, error) {
	start := time.Now()
	records, skipped := domain.Tally(events)

	if err := a.stats.Replace(ctx, records); err != nil {
		return RebuildReport{Events: len(events), Skipped: skipped}, fmt.Errorf("replace stats: %w", err)
	}

	report := RebuildReport{
		Events:   len(events),
		Skipped:  skipped,
		Models:   len(records),
		Duration: time.Since(start),
	}
	a.logger.Info("stats rebuilt",
		zap.Int("events", report.Events),
		zap.Int("skipped", report.Skipped),
		zap.Int("models", report.Models),
		zap.Duration("duration", report.Duration))
	a.metrics.RecordCounter("stats_rebuilds_total", 1, nil)
	return report, nil
}

// RebuildFromLog reads the full event log from votes and rebuilds from it.
func (a *StatsAggregator) RebuildFromLog(ctx context.Context, votes ports.VoteStore) (RebuildReport, error) {
	var events []domain.VoteEvent
	err := votes.Scan(ctx, func(ev domain.VoteEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return RebuildReport{}, fmt.Errorf("scan vote log: %w", err)
	}
	return a.Rebuild(ctx, events)
}

// Cleanup removes records whose model key is null, empty or missing.
func (a *StatsAggregator) Cleanup(ctx context.Context) (CleanupReport, error) {
	counts, err := a.stats.RemoveInvalid(ctx)
	report := CleanupReport{CleanupCounts: counts, Removed: counts.Total()}
	if err != nil {
		return report, fmt.Errorf("cleanup stats: %w", err)
	}

	a.logger.Info("stats cleaned up",
		zap.Int64("null", counts.Null),
		zap.Int64("empty", counts.Empty),
		zap.Int64("missing", counts.Missing))
	a.metrics.RecordCounter("stats_cleanup_removed_total", float64(report.Removed), nil)
	return report, nil
}
