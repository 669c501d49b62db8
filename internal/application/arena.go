package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// Storage call bounds used when none are configured.
const (
	DefaultStoreTimeout   = 5 * time.Second
	DefaultRebuildTimeout = 2 * time.Minute
)

// ErrStorageUnavailable is returned by every storage-backed operation when
// the service started without a reachable store.
var ErrStorageUnavailable = domain.NewStoreError(domain.ErrConnectionUnavailable, "startup", errors.New("storage unavailable"))

// DatabaseStats is an operator view of the stores.
type DatabaseStats struct {
	TotalVotes   int64                    `json:"total_votes"`
	Models       int                      `json:"models"`
	InvalidStats int                      `json:"invalid_stats"`
	StatsSample  []domain.ModelStatRecord `json:"stats_sample"`
	RecentVotes  []domain.VoteEvent       `json:"recent_votes"`
	AtomicPairs  bool                     `json:"atomic_pairs"`
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(l *zap.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

// WithServiceMetrics sets the metrics collector.
func WithServiceMetrics(m ports.MetricsCollector) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithVoterLimiter paces votes per voter token.
func WithVoterLimiter(l *VoterLimiter) ServiceOption { return func(s *Service) { s.voters = l } }

// WithLeaderboardLimit sets the default number of leaderboard entries.
func WithLeaderboardLimit(n int) ServiceOption { return func(s *Service) { s.leaderboardLimit = n } }

// WithStoreTimeout bounds every single storage call.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithRebuildTimeout bounds a full statistics rebuild.
func WithRebuildTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.rebuildTimeout = d
		}
	}
}

var _ ports.VoteSubmitter = (*Service)(nil)

// Service is the arena's external interface: vote submission, the
// leaderboard and maintenance operations.
type Service struct {
	votes       ports.VoteStore
	stats       ports.StatsStore
	aggregator  *StatsAggregator
	leaderboard *LeaderboardView
	voters      *VoterLimiter

	// rebuildMu is held shared from append through stats update and
	// exclusively by a rebuild, so no acknowledged vote falls between the
	// log scan and the record replace.
	rebuildMu sync.RWMutex

	storeTimeout     time.Duration
	rebuildTimeout   time.Duration
	leaderboardLimit int
	logger           *zap.Logger
	metrics          ports.MetricsCollector
	tracer           trace.Tracer
}

// NewService wires the service over its stores. Passing a nil store puts
// the service in storage-unavailable mode: voting, the leaderboard and
// maintenance return ErrStorageUnavailable while the rest keeps working.
func NewService(votes ports.VoteStore, stats ports.StatsStore, opts ...ServiceOption) *Service {
	s := &Service{
		votes:          votes,
		stats:          stats,
		storeTimeout:   DefaultStoreTimeout,
		rebuildTimeout: DefaultRebuildTimeout,
		logger:         zap.NewNop(),
		metrics:        ports.NopMetrics{},
		tracer:         otel.Tracer("github.com/ahrav/go-arena/application"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.StorageAvailable() {
		s.aggregator = NewStatsAggregator(stats, s.logger, s.metrics)
		s.leaderboard = NewLeaderboardView(stats, s.leaderboardLimit, s.storeTimeout)
	}
	return s
}

// StorageAvailable reports whether the service has working stores.
func (s *Service) StorageAvailable() bool { return s.votes != nil && s.stats != nil }

// SubmitVote validates req, appends the event and folds it into the stats.
// A failed append leaves the stats untouched. Once the append is
// acknowledged the stats update no longer follows ctx cancellation; a
// failure there is logged and counted and the id is still returned, and
// RebuildStats repairs the counters from the log.
func (s *Service) SubmitVote(ctx context.Context, req domain.VoteRequest) (domain.VoteID, error) {
	ctx, span := s.tracer.Start(ctx, "arena.submit_vote", trace.WithAttributes(
		attribute.String("vote.model_a", req.ModelA),
		attribute.String("vote.model_b", req.ModelB),
		attribute.String("vote.outcome", string(req.Outcome)),
	))
	defer span.End()

	id, err := s.submitVote(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("vote.id", string(id)))
	return id, nil
}

func (s *Service) submitVote(ctx context.Context, req domain.VoteRequest) (domain.VoteID, error) {
	ev, err := domain.NewVoteEvent(req.Prompt, req.ModelA, req.ModelB, req.Outcome, req.VoterToken)
	if err != nil {
		return "", fmt.Errorf("invalid vote: %w", err)
	}
	if !s.StorageAvailable() {
		return "", ErrStorageUnavailable
	}
	if !s.voters.Allow(req.VoterToken) {
		s.metrics.RecordCounter("votes_rejected_total", 1, map[string]string{"reason": "rate_limited"})
		return "", domain.ErrVoteRateLimited
	}

	s.rebuildMu.RLock()
	defer s.rebuildMu.RUnlock()

	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	id, err := s.votes.Append(actx, ev)
	cancel()
	if err != nil {
		s.metrics.RecordCounter("votes_rejected_total", 1, map[string]string{"reason": "store"})
		s.logger.Error("vote not recorded", zap.Error(err))
		return "", storeError("append", err, domain.ErrWriteRejected)
	}
	ev.ID = id

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	if err := s.aggregator.Apply(sctx, ev); err != nil {
		s.metrics.RecordCounter("stats_update_failures_total", 1, nil)
		s.logger.Error("stats update failed after vote was recorded; rebuild will repair",
			zap.String("vote_id", string(id)),
			zap.Error(err))
	}

	s.metrics.RecordCounter("votes_total", 1, map[string]string{"outcome": string(ev.Outcome)})
	s.metrics.RecordLatency("submit_vote", time.Since(start), nil)
	s.logger.Info("vote recorded",
		zap.String("vote_id", string(id)),
		zap.String("model_a", ev.ModelA),
		zap.String("model_b", ev.ModelB),
		zap.String("outcome", string(ev.Outcome)))
	return id, nil
}

// GetLeaderboard returns up to limit ranked entries; limit <= 0 uses the
// configured default.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if !s.StorageAvailable() {
		return nil, ErrStorageUnavailable
	}
	return s.leaderboard.Top(ctx, limit)
}

// GetVoteCount returns the number of stored vote events.
func (s *Service) GetVoteCount(ctx context.Context) (int64, error) {
	if !s.StorageAvailable() {
		return 0, ErrStorageUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	n, err := s.votes.Count(ctx)
	if err != nil {
		return 0, storeError("count", err, domain.ErrConnectionUnavailable)
	}
	s.metrics.RecordGauge("votes_stored", float64(n), nil)
	return n, nil
}

// CleanupStats removes statistics records with a null, empty or missing
// model key.
func (s *Service) CleanupStats(ctx context.Context) (CleanupReport, error) {
	if !s.StorageAvailable() {
		return CleanupReport{}, ErrStorageUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.aggregator.Cleanup(ctx)
}

// RebuildStats recomputes every statistics record from the vote log.
// Vote submission waits while it runs.
func (s *Service) RebuildStats(ctx context.Context) (RebuildReport, error) {
	if !s.StorageAvailable() {
		return RebuildReport{}, ErrStorageUnavailable
	}
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.rebuildTimeout)
	defer cancel()
	return s.aggregator.RebuildFromLog(ctx, s.votes)
}

// Ping checks that the vote store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if !s.StorageAvailable() {
		return ErrStorageUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.votes.Ping(ctx); err != nil {
		return storeError("ping", err, domain.ErrConnectionUnavailable)
	}
	return nil
}

// DatabaseStats gathers counts, a sample of stats records and the most
// recent votes.
func (s *Service) DatabaseStats(ctx context.Context) (DatabaseStats, error) {
	if !s.StorageAvailable() {
		return DatabaseStats{}, ErrStorageUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	total, err := s.votes.Count(ctx)
	if err != nil {
		return DatabaseStats{}, err
	}
	records, err := s.stats.All(ctx)
	if err != nil {
		return DatabaseStats{}, err
	}
	recent, err := s.votes.Recent(ctx, 5)
	if err != nil {
		return DatabaseStats{}, err
	}

	out := DatabaseStats{
		TotalVotes:  total,
		RecentVotes: recent,
		AtomicPairs: s.stats.AtomicPairs(),
	}
	for _, r := range records {
		if r.Model == "" {
			out.InvalidStats++
			continue
		}
		out.Models++
		if len(out.StatsSample) < 10 {
			out.StatsSample = append(out.StatsSample, r)
		}
	}
	return out, nil
}

// storeError keeps adapter errors as they are and classifies anything
// else, treating an expired deadline as an unreachable store.
func storeError(op string, err, kind error) error {
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.ErrConnectionUnavailable
	}
	return domain.NewStoreError(kind, op, err)
}
