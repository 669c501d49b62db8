package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-arena/infrastructure/gateway"
	"github.com/ahrav/go-arena/infrastructure/logging"
	"github.com/ahrav/go-arena/infrastructure/middleware"
	"github.com/ahrav/go-arena/infrastructure/storage/memory"
	"github.com/ahrav/go-arena/infrastructure/storage/mongo"
	"github.com/ahrav/go-arena/infrastructure/storage/redis"
	"github.com/ahrav/go-arena/internal/application"
	"github.com/ahrav/go-arena/internal/ports"
)

const serviceName = "go-arena"

// app is everything a command needs, built from one Config.
type app struct {
	cfg      application.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *middleware.PrometheusMetrics
	service  *application.Service
	voters   *application.VoterLimiter
	closers  []func(context.Context) error
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// newApp loads configuration and opens storage. With requireStorage false
// an unreachable store degrades the service instead of failing.
func newApp(ctx context.Context, configPath string, requireStorage bool) (*app, error) {
	cfg, err := application.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  middleware.NewPrometheusMetrics(reg),
		voters:   application.NewVoterLimiter(cfg.Voting.PerMinute, cfg.Voting.Burst),
	}

	st, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		if requireStorage {
			return nil, err
		}
		logger.Warn("Storage unavailable; voting and the leaderboard are disabled", zap.Error(err))
	}
	a.closers = append(a.closers, st.closers...)

	opts := []application.ServiceOption{
		application.WithServiceLogger(logger),
		application.WithServiceMetrics(a.metrics),
		application.WithLeaderboardLimit(cfg.Leaderboard.DefaultLimit),
		application.WithVoterLimiter(a.voters),
		application.WithStoreTimeout(cfg.Storage.OpTimeout),
		application.WithRebuildTimeout(cfg.Storage.RebuildTimeout),
	}
	a.service = application.NewService(st.votes, st.stats, opts...)
	return a, nil
}

type stores struct {
	votes   ports.VoteStore
	stats   ports.StatsStore
	closers []func(context.Context) error
}

// openStores builds the configured stores. On error the returned value
// holds nil stores, which NewService treats as storage-unavailable.
func openStores(ctx context.Context, cfg application.StorageConfig, logger *zap.Logger) (stores, error) {
	statsDriver := cfg.StatsDriver
	if statsDriver == "" {
		statsDriver = cfg.Driver
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = mongo.DefaultConnectTimeout
	}

	var st stores
	var mc *mongo.Client
	connectMongo := func() error {
		if mc != nil {
			return nil
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		c, err := mongo.Connect(cctx, cfg.Mongo.URI, cfg.Mongo.Database, logger,
			mongo.WithOperationTimeout(cfg.OpTimeout))
		if err != nil {
			return err
		}
		mc = c
		st.closers = append(st.closers, c.Close)
		return nil
	}
	fail := func(err error) (stores, error) {
		for _, c := range st.closers {
			_ = c(context.Background())
		}
		return stores{}, err
	}

	switch cfg.Driver {
	case "mongo":
		if err := connectMongo(); err != nil {
			return fail(err)
		}
		st.votes = mc.Votes()
	default:
		st.votes = memory.NewVoteStore()
	}

	switch statsDriver {
	case "mongo":
		if err := connectMongo(); err != nil {
			return fail(err)
		}
		st.stats = mc.Stats()
	case "redis":
		rs, err := redis.NewStatsStore(ctx, redis.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return fail(err)
		}
		st.stats = rs
		st.closers = append(st.closers, func(context.Context) error { return rs.Close() })
	default:
		st.stats = memory.NewStatsStore()
	}
	return st, nil
}

// newGateway builds the endpoint chain. Middleware listed first is
// outermost: tracing sees the whole call including breaker rejections.
func newGateway(cfg application.GatewayConfig, logger *zap.Logger, metrics ports.MetricsCollector) (*gateway.Gateway, error) {
	mws := []gateway.Middleware{
		gateway.TracingMiddleware(serviceName),
		gateway.MetricsMiddleware(metrics),
	}
	if cfg.BreakerFailures > 0 {
		mws = append(mws, gateway.CircuitBreakerMiddleware(cfg.BreakerFailures, cfg.BreakerCooldown))
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		mws = append(mws, gateway.RateLimitMiddleware(rate.Limit(cfg.RequestsPerSecond), burst))
	}

	backends := make([]gateway.Backend, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		key := cfg.APIKey
		if ep.APIKeyEnv != "" {
			key = os.Getenv(ep.APIKeyEnv)
		}
		b, err := gateway.NewBackend(ep, key)
		if err != nil {
			return nil, err
		}
		chain := mws
		if ep.Timeout > 0 {
			chain = append(append([]gateway.Middleware(nil), mws...), gateway.TimeoutMiddleware(gateway.ValidateTimeout(ep.Timeout)))
		}
		backends = append(backends, gateway.Chain(b, chain...))
	}

	return gateway.New(backends,
		gateway.WithRetry(gateway.RetryConfig{
			MaxAttempts:   cfg.MaxAttempts,
			BaseDelay:     cfg.BaseDelay,
			MaxDelay:      cfg.MaxDelay,
			JitterPercent: cfg.JitterPercent,
		}),
		gateway.WithRateLimitCooldown(cfg.RateLimitCooldown),
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)
}

// newSessions builds the session registry over a ready gateway.
func newSessions(a *app) (*application.SessionRegistry, error) {
	gw, err := newGateway(a.cfg.Gateway, a.logger, a.metrics)
	if err != nil {
		return nil, err
	}
	return application.NewSessionRegistry(application.ArbiterDeps{
		Pool:     a.cfg.Pool,
		Selector: application.NewPairSelector(nil),
		Guard:    application.NewInputGuard(a.cfg.Guard.MaxLength),
		Gateway:  gw,
		Votes:    a.service,
		Logger:   a.logger,
	}, []byte(a.cfg.Voting.TokenSecret), a.voters), nil
}

// sweepSessions ends idle sessions until ctx is done.
func sweepSessions(ctx context.Context, sessions *application.SessionRegistry, every, maxIdle time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(maxIdle); n > 0 {
				logger.Debug("Swept idle sessions", zap.Int("removed", n))
			}
		}
	}
}
