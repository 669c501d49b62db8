// Package redis implements the statistics store on Redis hashes.
//
// Each model's counters live in the hash "<prefix>:stats:<model>" with the
// fields wins, losses, ties and total_battles. The set "<prefix>:stats:models"
// indexes the known models.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

var _ ports.StatsStore = (*StatsStore)(nil)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "arena"

const (
	fieldWins   = "wins"
	fieldLosses = "losses"
	fieldTies   = "ties"
	fieldTotal  = "total_battles"
)

// Options configures NewStatsStore.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// StatsStore keeps per-model counters in Redis. Increments of one call run
// inside MULTI/EXEC, so a vote's two records move together.
type StatsStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewStatsStore dials Redis and verifies the connection.
func NewStatsStore(ctx context.Context, opts Options, logger *zap.Logger) (*StatsStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, domain.NewStoreError(domain.ErrConnectionUnavailable, "ping",
			fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err))
	}

	logger.Info("Connected to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return NewStatsStoreFromClient(rdb, opts.KeyPrefix, logger), nil
}

// NewStatsStoreFromClient wraps an existing client.
func NewStatsStoreFromClient(client *redis.Client, prefix string, logger *zap.Logger) *StatsStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsStore{client: client, prefix: prefix, logger: logger}
}

func (s *StatsStore) modelsKey() string         { return s.prefix + ":stats:models" }
func (s *StatsStore) recordKey(m string) string { return s.prefix + ":stats:" + m }

// Increment applies every delta with HINCRBY inside one transaction. Fields
// are incremented even by zero so a new record starts with all counters.
func (s *StatsStore) Increment(ctx context.Context, deltas ...domain.StatDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range deltas {
			key := s.recordKey(d.Model)
			pipe.HIncrBy(ctx, key, fieldWins, d.Wins)
			pipe.HIncrBy(ctx, key, fieldLosses, d.Losses)
			pipe.HIncrBy(ctx, key, fieldTies, d.Ties)
			pipe.HIncrBy(ctx, key, fieldTotal, d.Total())
			pipe.SAdd(ctx, s.modelsKey(), d.Model)
		}
		return nil
	})
	if err != nil {
		return domain.NewStatsError(deltas[0].Model, classify("increment", err))
	}
	return nil
}

// AtomicPairs is true: MULTI/EXEC applies all deltas of a call together.
func (s *StatsStore) AtomicPairs() bool { return true }

// All returns every indexed record sorted by model.
func (s *StatsStore) All(ctx context.Context) ([]domain.ModelStatRecord, error) {
	models, err := s.client.SMembers(ctx, s.modelsKey()).Result()
	if err != nil {
		return nil, classify("list models", err)
	}
	sort.Strings(models)

	cmds := make([]*redis.MapStringStringCmd, len(models))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range models {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(m))
		}
		return nil
	})
	if err != nil {
		return nil, classify("list stats", err)
	}

	out := make([]domain.ModelStatRecord, 0, len(models))
	for i, m := range models {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := parseRecord(m, fields)
		if err != nil {
			s.logger.Warn("Skipping unreadable stats record", zap.String("model", m), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Replace drops every indexed record and writes records in one transaction.
func (s *StatsStore) Replace(ctx context.Context, records []domain.ModelStatRecord) error {
	existing, err := s.client.SMembers(ctx, s.modelsKey()).Result()
	if err != nil {
		return classify("replace", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range existing {
			pipe.Del(ctx, s.recordKey(m))
		}
		pipe.Del(ctx, s.modelsKey())
		for _, r := range records {
			pipe.HSet(ctx, s.recordKey(r.Model),
				fieldWins, r.Wins,
				fieldLosses, r.Losses,
				fieldTies, r.Ties,
				fieldTotal, r.TotalBattles)
			pipe.SAdd(ctx, s.modelsKey(), r.Model)
		}
		return nil
	})
	if err != nil {
		return classify("replace", err)
	}
	return nil
}

// RemoveInvalid deletes the empty-key record. Hash keys cannot be null or
// absent, so only Empty can be non-zero.
func (s *StatsStore) RemoveInvalid(ctx context.Context) (ports.CleanupCounts, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.modelsKey(), "")
		pipe.Del(ctx, s.recordKey(""))
		return nil
	})
	if err != nil {
		return ports.CleanupCounts{}, classify("remove invalid", err)
	}
	return ports.CleanupCounts{Empty: removed.Val()}, nil
}

// Ping verifies the server is reachable.
func (s *StatsStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *StatsStore) Close() error {
	return s.client.Close()
}

func parseRecord(model string, fields map[string]string) (domain.ModelStatRecord, error) {
	rec := domain.ModelStatRecord{Model: model}
	targets := map[string]*int64{
		fieldWins:   &rec.Wins,
		fieldLosses: &rec.Losses,
		fieldTies:   &rec.Ties,
		fieldTotal:  &rec.TotalBattles,
	}
	for name, dst := range targets {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.ModelStatRecord{}, fmt.Errorf("field %s: %w", name, err)
		}
		*dst = v
	}
	return rec, nil
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return domain.NewStoreError(domain.ErrConnectionUnavailable, op, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return domain.NewStoreError(domain.ErrConnectionUnavailable, op, err)
	}
	return domain.NewStoreError(domain.ErrWriteRejected, op, err)
}
