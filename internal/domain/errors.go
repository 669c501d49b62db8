package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every typed error below unwraps to exactly one of these so
// callers can branch with errors.Is without knowing the concrete type.
var (
	// ErrEmptyInput indicates a prompt that is empty or whitespace only.
	ErrEmptyInput = errors.New("input cannot be empty")
	// ErrInputTooLong indicates a prompt over the configured maximum length.
	ErrInputTooLong = errors.New("input too long")
	// ErrDangerousContent indicates a prompt that matched the denylist.
	ErrDangerousContent = errors.New("potentially dangerous content detected")

	// ErrTimeout indicates a backend call that did not finish in time.
	ErrTimeout = errors.New("request timed out")
	// ErrRateLimited indicates the backend answered 429 or the model is cooling down.
	ErrRateLimited = errors.New("rate limited")
	// ErrAPIError indicates a non-success HTTP status from a backend.
	ErrAPIError = errors.New("api error")
	// ErrEmptyResponse indicates a successful call whose content was blank.
	ErrEmptyResponse = errors.New("empty response content")
	// ErrUnexpectedFormat indicates a response body matching no known envelope.
	ErrUnexpectedFormat = errors.New("unexpected response format")
	// ErrAllEndpointsFailed indicates every configured endpoint was exhausted.
	ErrAllEndpointsFailed = errors.New("all endpoints failed")

	// ErrConnectionUnavailable indicates the storage engine cannot be reached.
	ErrConnectionUnavailable = errors.New("storage connection unavailable")
	// ErrWriteRejected indicates a write the storage engine did not acknowledge.
	ErrWriteRejected = errors.New("write rejected")
	// ErrDuplicateKey indicates a write that collided with an existing key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUpsertFailed indicates a statistics record could not be upserted.
	ErrUpsertFailed = errors.New("stats upsert failed")

	// ErrEmptyModel indicates a vote that names an empty model identifier.
	ErrEmptyModel = errors.New("model identifier cannot be empty")
	// ErrSameModel indicates a vote whose two models are identical.
	ErrSameModel = errors.New("model A and model B must differ")
	// ErrInvalidOutcome indicates an outcome outside the closed enumeration.
	ErrInvalidOutcome = errors.New("invalid outcome")
	// ErrPoolTooSmall indicates a pool with fewer than two distinct models.
	ErrPoolTooSmall = errors.New("model pool needs at least two distinct models")
	// ErrVoteNotAllowed indicates a vote attempt while the vote gate is closed.
	ErrVoteNotAllowed = errors.New("voting is not allowed in the current state")
	// ErrVoteRateLimited indicates a voter token that is voting too quickly.
	ErrVoteRateLimited = errors.New("too many votes from this session")
)

// ValidationError reports why untrusted prompt text was rejected.
type ValidationError struct {
	// Kind is one of ErrEmptyInput, ErrInputTooLong or ErrDangerousContent.
	Kind error
	// Detail carries optional context such as the configured limit.
	Detail string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation error: %v", e.Kind)
	}
	return fmt.Sprintf("validation error: %v (%s)", e.Kind, e.Detail)
}

// Unwrap returns the kind sentinel.
func (e *ValidationError) Unwrap() error { return e.Kind }

// NewValidationError creates a ValidationError of the given kind.
func NewValidationError(kind error, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Detail: detail}
}

// GatewayError describes a failed model backend call.
type GatewayError struct {
	// Kind is one of the gateway sentinels (ErrTimeout, ErrRateLimited, ...).
	Kind error
	// Model is the model identifier the call was made for.
	Model string
	// Endpoint names the backend endpoint that produced the error, if any.
	Endpoint string
	// StatusCode holds the HTTP status for ErrAPIError and ErrRateLimited.
	StatusCode int
	// Err is the underlying cause, such as the last endpoint's failure.
	Err error
}

// Error implements the error interface for GatewayError.
func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway error: model=%s, kind=%v", e.Model, e.Kind)
	if e.Endpoint != "" {
		msg += ", endpoint=" + e.Endpoint
	}
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(", status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(", err=%v", e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether another attempt on the same endpoint may help.
// Rate limiting is deliberately excluded: a 429 ends the fetch.
func (e *GatewayError) Retryable() bool {
	if errors.Is(e.Kind, ErrTimeout) {
		return true
	}
	return errors.Is(e.Kind, ErrAPIError) && (e.StatusCode == 0 || e.StatusCode >= 500)
}

// NewGatewayError creates a GatewayError with the given details.
func NewGatewayError(kind error, model string, statusCode int, err error) *GatewayError {
	return &GatewayError{Kind: kind, Model: model, StatusCode: statusCode, Err: err}
}

// StoreError describes a failed storage operation.
type StoreError struct {
	// Kind is one of ErrConnectionUnavailable, ErrWriteRejected or ErrDuplicateKey.
	Kind error
	// Operation names the store operation that failed.
	Operation string
	// Err is the driver error, if any.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store error: operation=%s, kind=%v", e.Operation, e.Kind)
	}
	return fmt.Sprintf("store error: operation=%s, kind=%v, err=%v", e.Operation, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the driver error.
func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewStoreError creates a StoreError with the given details.
func NewStoreError(kind error, operation string, err error) *StoreError {
	return &StoreError{Kind: kind, Operation: operation, Err: err}
}

// StatsError describes a failed statistics mutation.
type StatsError struct {
	// Kind is ErrUpsertFailed.
	Kind error
	// Model is the record key the mutation targeted, when known.
	Model string
	// Err is the underlying store error.
	Err error
}

// Error implements the error interface for StatsError.
func (e *StatsError) Error() string {
	return fmt.Sprintf("stats error: model=%s, kind=%v, err=%v", e.Model, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying error.
func (e *StatsError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewStatsError creates a StatsError of kind ErrUpsertFailed.
func NewStatsError(model string, err error) *StatsError {
	return &StatsError{Kind: ErrUpsertFailed, Model: model, Err: err}
}
