package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ahrav/go-arena/internal/domain"
)

// ErrEmptyAPIKey indicates that a backend requiring a key was configured
// without one.
var ErrEmptyAPIKey = errors.New("API key cannot be empty")

// classifier maps transport and HTTP failures of one endpoint onto the
// domain gateway error kinds.
type classifier struct {
	endpoint string
}

// status classifies a non-2xx HTTP status.
func (c classifier) status(model string, code int, message string) *domain.GatewayError {
	kind := domain.ErrAPIError
	if code == http.StatusTooManyRequests {
		kind = domain.ErrRateLimited
	}
	var cause error
	if message != "" {
		cause = errors.New(message)
	}
	return &domain.GatewayError{Kind: kind, Model: model, Endpoint: c.endpoint, StatusCode: code, Err: cause}
}

// transport classifies an error that happened before a status was received.
func (c classifier) transport(model string, err error) *domain.GatewayError {
	ge := &domain.GatewayError{Kind: domain.ErrAPIError, Model: model, Endpoint: c.endpoint, Err: err}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		ge.Kind = domain.ErrTimeout
		return ge
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		ge.Kind = domain.ErrTimeout
	}
	return ge
}

// decodeFailure reports a body that could not be read at all.
func (c classifier) decodeFailure(model string, code int, err error) *domain.GatewayError {
	return &domain.GatewayError{
		Kind:       domain.ErrUnexpectedFormat,
		Model:      model,
		Endpoint:   c.endpoint,
		StatusCode: code,
		Err:        fmt.Errorf("read body: %w", err),
	}
}
