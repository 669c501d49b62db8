package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorKinds verifies that every typed error matches its kind sentinel
// and keeps the underlying cause reachable.
func TestErrorKinds(t *testing.T) {
	cause := errors.New("socket closed")

	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"validation", NewValidationError(ErrDangerousContent, ""), ErrDangerousContent},
		{"gateway", NewGatewayError(ErrRateLimited, "m1", 429, cause), ErrRateLimited},
		{"store", NewStoreError(ErrWriteRejected, "append", cause), ErrWriteRejected},
		{"stats", NewStatsError("m1", cause), ErrUpsertFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind, "kind must survive wrapping")
			if tt.name != "validation" {
				assert.ErrorIs(t, wrapped, cause, "cause must stay reachable")
			}
		})
	}
}

// TestGatewayError_Retryable checks which failures deserve another attempt.
func TestGatewayError_Retryable(t *testing.T) {
	assert.True(t, NewGatewayError(ErrTimeout, "m", 0, nil).Retryable())
	assert.True(t, NewGatewayError(ErrAPIError, "m", 503, nil).Retryable())
	assert.True(t, NewGatewayError(ErrAPIError, "m", 0, nil).Retryable(), "network errors carry no status")
	assert.False(t, NewGatewayError(ErrAPIError, "m", 400, nil).Retryable())
	assert.False(t, NewGatewayError(ErrRateLimited, "m", 429, nil).Retryable())
	assert.False(t, NewGatewayError(ErrUnexpectedFormat, "m", 200, nil).Retryable())
	assert.False(t, NewGatewayError(ErrEmptyResponse, "m", 200, nil).Retryable())
}

// TestGatewayError_AsFromAllEndpointsFailed ensures errors.As reaches the
// last endpoint's error through the aggregate.
func TestGatewayError_AsFromAllEndpointsFailed(t *testing.T) {
	last := NewGatewayError(ErrEmptyResponse, "m", 200, nil)
	all := NewGatewayError(ErrAllEndpointsFailed, "m", 0, last)

	assert.ErrorIs(t, all, ErrAllEndpointsFailed)
	assert.ErrorIs(t, all, ErrEmptyResponse)

	var ge *GatewayError
	assert.True(t, errors.As(all, &ge))
	assert.Equal(t, "m", ge.Model)
}
