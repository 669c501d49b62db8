// Package gateway fetches model completions for the arena with endpoint
// fallback, bounded retries and response normalization.
//
// The package abstracts heterogeneous completion backends (raw
// OpenAI-compatible or Ollama HTTP endpoints, and the OpenAI, Anthropic and
// Google SDKs) behind the Backend interface and layers cross-cutting
// concerns on top through a middleware chain, so the Gateway itself only
// owns the retry/fallback contract.
//
// Basic usage:
//
//	primary, _ := gateway.NewBackend(gateway.EndpointConfig{
//	    Name: "primary", Kind: "http", URL: "https://genai.example.edu/api/chat/completions",
//	}, os.Getenv("ARENA_API_KEY"))
//	gw, err := gateway.New([]gateway.Backend{primary}, gateway.WithLogger(logger))
//	content, err := gw.Fetch(ctx, "mistral:latest", "Explain quantum computing")
//
// Usage with middleware:
//
//	backend = gateway.Chain(backend,
//	    gateway.TimeoutMiddleware(30*time.Second),
//	    gateway.RateLimitMiddleware(20, 40),
//	    gateway.CircuitBreakerMiddleware(5, 30*time.Second),
//	    gateway.MetricsMiddleware(collector),
//	)
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// Default retry configuration constants.
const (
	// DefaultMaxAttempts is the default number of attempts per endpoint.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the default delay before the second attempt.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay is the default cap for the backoff delay.
	DefaultMaxDelay = 8 * time.Second
	// DefaultJitterPercent is the default jitter percentage.
	DefaultJitterPercent = 0.1
	// DefaultRateLimitCooldown is how long a model stays blocked after a 429.
	DefaultRateLimitCooldown = time.Minute
)

// Request is the backend-neutral completion request for one model.
type Request struct {
	// Model is the pool identifier the completion is requested from.
	Model string
	// Prompt is the sanitized user prompt, sent as a single user message.
	Prompt string
}

// Backend is a single completion endpoint.
// Implementations translate the request to their wire format and return the
// response body as an Envelope, or a *domain.GatewayError classifying the
// failure. They do not retry.
type Backend interface {
	// Name identifies the endpoint in logs, metrics and errors.
	Name() string

	// Do performs one completion call.
	Do(ctx context.Context, req Request) (Envelope, error)
}

// Middleware wraps a Backend to add cross-cutting functionality such as
// timeouts, rate limiting, circuit breaking, metrics and tracing.
type Middleware func(Backend) Backend

// Chain applies middleware so the first one listed is the outermost.
func Chain(b Backend, middleware ...Middleware) Backend {
	for i := len(middleware) - 1; i >= 0; i-- {
		b = middleware[i](b)
	}
	return b
}

// RetryConfig controls per-endpoint retries with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the number of attempts per endpoint, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// JitterPercent adds up to ±JitterPercent of the delay to spread retries.
	JitterPercent float64
}

// DefaultRetryConfig returns a RetryConfig with the default values.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   DefaultMaxAttempts,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		JitterPercent: DefaultJitterPercent,
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRetry overrides the retry policy.
func WithRetry(cfg RetryConfig) Option { return func(g *Gateway) { g.retry = cfg } }

// WithRateLimitCooldown sets how long a model is short-circuited after a 429.
// Zero disables the cooldown.
func WithRateLimitCooldown(d time.Duration) Option { return func(g *Gateway) { g.cooldown = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m ports.MetricsCollector) Option { return func(g *Gateway) { g.metrics = m } }

// withClock replaces the time source; tests use it to drive cooldowns.
func withClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

var _ ports.ModelGateway = (*Gateway)(nil)

// Gateway implements ports.ModelGateway over an ordered list of backends.
// It is safe for concurrent use.
type Gateway struct {
	endpoints []Backend
	retry     RetryConfig
	cooldown  time.Duration
	// limited maps a model to the instant its rate-limit cooldown ends.
	limited *xsync.Map[string, time.Time]
	logger  *zap.Logger
	metrics ports.MetricsCollector
	now     func() time.Time
}

// New creates a Gateway that tries endpoints in the given order.
func New(endpoints []Backend, opts ...Option) (*Gateway, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	g := &Gateway{
		endpoints: endpoints,
		retry:     DefaultRetryConfig(),
		cooldown:  DefaultRateLimitCooldown,
		limited:   xsync.NewMap[string, time.Time](),
		logger:    zap.NewNop(),
		metrics:   ports.NopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retry.MaxAttempts < 1 {
		g.retry.MaxAttempts = 1
	}
	return g, nil
}

// Fetch returns model's completion for prompt.
// Endpoints are tried in order. A 429 from any endpoint ends the fetch with
// ErrRateLimited and starts the model's cooldown; any other failure moves on
// to the next endpoint once retries on the current one are exhausted.
func (g *Gateway) Fetch(ctx context.Context, model, prompt string) (string, error) {
	if until, ok := g.limited.Load(model); ok {
		if g.now().Before(until) {
			g.metrics.RecordCounter("gateway_requests_total", 1, map[string]string{"model": model, "status": "cooldown"})
			return "", &domain.GatewayError{
				Kind:  domain.ErrRateLimited,
				Model: model,
				Err:   fmt.Errorf("cooling down until %s", until.UTC().Format(time.RFC3339)),
			}
		}
		g.limited.Delete(model)
	}

	start := g.now()
	var last error
	for _, ep := range g.endpoints {
		content, err := g.tryEndpoint(ctx, ep, model, prompt)
		if err == nil {
			g.logger.Debug("model responded",
				zap.String("model", model),
				zap.String("endpoint", ep.Name()),
				zap.Duration("elapsed", g.now().Sub(start)))
			g.metrics.RecordCounter("gateway_requests_total", 1, map[string]string{"model": model, "status": "success"})
			return content, nil
		}

		if ctx.Err() != nil {
			return "", &domain.GatewayError{Kind: domain.ErrTimeout, Model: model, Endpoint: ep.Name(), Err: ctx.Err()}
		}

		if errors.Is(err, domain.ErrRateLimited) {
			if g.cooldown > 0 {
				g.limited.Store(model, g.now().Add(g.cooldown))
			}
			g.logger.Warn("model rate limited", zap.String("model", model), zap.String("endpoint", ep.Name()))
			g.metrics.RecordCounter("gateway_requests_total", 1, map[string]string{"model": model, "status": "rate_limited"})
			return "", err
		}

		g.logger.Warn("endpoint failed, trying next",
			zap.String("model", model),
			zap.String("endpoint", ep.Name()),
			zap.Error(err))
		last = err
	}

	g.metrics.RecordCounter("gateway_requests_total", 1, map[string]string{"model": model, "status": "failed"})
	return "", &domain.GatewayError{Kind: domain.ErrAllEndpointsFailed, Model: model, Err: last}
}

// tryEndpoint runs up to MaxAttempts calls against one endpoint, backing off
// between transient failures.
func (g *Gateway) tryEndpoint(ctx context.Context, ep Backend, model, prompt string) (string, error) {
	var lastErr *domain.GatewayError
	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		env, err := ep.Do(ctx, Request{Model: model, Prompt: prompt})
		if err == nil {
			content, extractErr := env.Text()
			if extractErr == nil {
				return content, nil
			}
			return "", &domain.GatewayError{Kind: extractErr, Model: model, Endpoint: ep.Name()}
		}

		ge, retryable := normalize(err, model, ep.Name())
		lastErr = ge
		if !retryable || attempt == g.retry.MaxAttempts-1 || ctx.Err() != nil {
			break
		}

		delay := g.calculateRetryDelay(attempt)
		g.logger.Debug("retrying endpoint",
			zap.String("model", model),
			zap.String("endpoint", ep.Name()),
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return "", lastErr
		case <-time.After(delay):
		}
	}
	return "", lastErr
}

// normalize turns whatever a backend or middleware returned into a
// GatewayError and reports whether another attempt is worthwhile.
func normalize(err error, model, endpoint string) (*domain.GatewayError, bool) {
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		out := *ge
		if out.Model == "" {
			out.Model = model
		}
		if out.Endpoint == "" {
			out.Endpoint = endpoint
		}
		return &out, out.Retryable()
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return &domain.GatewayError{Kind: domain.ErrAPIError, Model: model, Endpoint: endpoint, Err: err}, false
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.GatewayError{Kind: domain.ErrTimeout, Model: model, Endpoint: endpoint, Err: err}, true
	case errors.Is(err, context.Canceled):
		return &domain.GatewayError{Kind: domain.ErrTimeout, Model: model, Endpoint: endpoint, Err: err}, false
	default:
		return &domain.GatewayError{Kind: domain.ErrAPIError, Model: model, Endpoint: endpoint, Err: err}, true
	}
}

// calculateRetryDelay computes BaseDelay * 2^attempt capped at MaxDelay,
// with jitter.
func (g *Gateway) calculateRetryDelay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := g.retry.BaseDelay * time.Duration(1<<attempt)
	if delay > g.retry.MaxDelay || delay <= 0 {
		delay = g.retry.MaxDelay
	}

	jitter := int64(float64(delay) * g.retry.JitterPercent)
	if jitter > 0 {
		//nolint:gosec // G404: math/rand is acceptable for retry jitter timing.
		delay += time.Duration(rand.Int64N(2*jitter) - jitter)
	}

	if delay < 0 {
		return 0
	}
	return delay
}
