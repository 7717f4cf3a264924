package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeCircuitOpen    = "CIRCUIT_OPEN"
	ErrCodeInitFailed     = "RESOURCE_INIT_FAILED"
	ErrCodeCloseFailed    = "RESOURCE_CLOSE_FAILED"
	ErrCodeAcquireTimeout = "ACQUIRE_TIMEOUT"
	ErrCodePoolClosed     = "POOL_CLOSED"
	ErrCodePoolExhausted  = "POOL_EXHAUSTED"
	ErrCodeNavigation     = "NAVIGATION_FAILED"
	ErrCodeRenderTimeout  = "RENDER_TIMEOUT"
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PoolError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type PoolError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *PoolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

// NewPoolError creates a new PoolError.
func NewPoolError(code, message string, err error) *PoolError {
	return &PoolError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *PoolError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the first PoolError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var pe *PoolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeInternal
}
