package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// backendFunc adapts a function and a name to Backend.
type backendFunc struct {
	name string
	do   func(ctx context.Context, req Request) (Envelope, error)
}

func (b backendFunc) Name() string { return b.name }

func (b backendFunc) Do(ctx context.Context, req Request) (Envelope, error) { return b.do(ctx, req) }

// TimeoutMiddleware bounds every call with a deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Backend) Backend {
		return backendFunc{name: next.Name(), do: func(ctx context.Context, req Request) (Envelope, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next.Do(ctx, req)
		}}
	}
}

// RateLimitMiddleware paces calls with a token bucket shared by every
// backend the returned middleware wraps.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next Backend) Backend {
		return backendFunc{name: next.Name(), do: func(ctx context.Context, req Request) (Envelope, error) {
			if err := limiter.Wait(ctx); err != nil {
				return Envelope{}, &domain.GatewayError{
					Kind:     domain.ErrTimeout,
					Model:    req.Model,
					Endpoint: next.Name(),
					Err:      fmt.Errorf("rate limit: %w", err),
				}
			}
			return next.Do(ctx, req)
		}}
	}
}

// MetricsMiddleware records per-endpoint latency and request outcomes.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next Backend) Backend {
		return backendFunc{name: next.Name(), do: func(ctx context.Context, req Request) (Envelope, error) {
			start := time.Now()
			env, err := next.Do(ctx, req)

			labels := map[string]string{
				"endpoint": next.Name(),
				"model":    req.Model,
				"status":   outcomeLabel(env, err),
			}
			if collector != nil {
				collector.RecordHistogram("gateway_endpoint_latency_seconds", time.Since(start).Seconds(), labels)
				collector.RecordCounter("gateway_endpoint_requests_total", 1, labels)
			}
			return env, err
		}}
	}
}

func outcomeLabel(env Envelope, err error) string {
	switch {
	case err == nil && env.Kind == EnvelopeUnrecognized:
		return "unexpected_format"
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// TracingMiddleware wraps each call in an OpenTelemetry span.
func TracingMiddleware(serviceName string) Middleware {
	tracer := otel.Tracer("github.com/ahrav/go-arena/gateway")
	return func(next Backend) Backend {
		return backendFunc{name: next.Name(), do: func(ctx context.Context, req Request) (Envelope, error) {
			ctx, span := tracer.Start(ctx, "gateway.request",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("service.name", serviceName),
					attribute.String("gateway.endpoint", next.Name()),
					attribute.String("gateway.model", req.Model),
					attribute.Int("gateway.prompt.length", len(req.Prompt)),
				),
			)
			defer span.End()

			env, err := next.Do(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return env, err
			}
			span.SetAttributes(
				attribute.String("gateway.envelope", env.Kind.String()),
				attribute.Int("gateway.response.length", len(env.Content)),
			)
			return env, nil
		}}
	}
}
