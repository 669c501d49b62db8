package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-arena/internal/domain"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a request
// without calling the endpoint.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState is the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed lets every call through.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects calls until the cooldown expires.
	StateOpen
	// StateHalfOpen lets a single trial call through.
	StateHalfOpen
)

// String returns the state name for logs and metric labels.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker opens after maxFailures consecutive endpoint failures and
// admits one trial call after the cooldown. Only failures that say something about
// endpoint health count: timeouts, transport errors and 5xx. A 4xx or a
// malformed body resets nothing and trips nothing.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool
	now         func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// allow reports whether a call may proceed, moving open to half-open once
// the cooldown has passed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(healthy bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if healthy {
		cb.failures = 0
		cb.state = StateClosed
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerMiddleware gives each wrapped backend its own breaker.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return func(next Backend) Backend {
		cb := NewCircuitBreaker(maxFailures, cooldown)
		return backendFunc{name: next.Name(), do: func(ctx context.Context, req Request) (Envelope, error) {
			if !cb.allow() {
				return Envelope{}, ErrCircuitOpen
			}
			env, err := next.Do(ctx, req)
			cb.record(!countsAsFailure(err))
			return env, err
		}}
	}
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		return ge.Retryable()
	}
	return true
}
