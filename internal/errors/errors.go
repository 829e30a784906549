// Package errors provides the HTTP-facing error taxonomy of the raffle API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a failure kind on the wire.
type ErrorCode string

const (
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeInvalidFormat      ErrorCode = "INVALID_FORMAT"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
	CodeInsufficientFee    ErrorCode = "INSUFFICIENT_FEE"
	CodeRaffleNotOpen      ErrorCode = "RAFFLE_NOT_OPEN"
	CodeUpkeepNotNeeded    ErrorCode = "UPKEEP_NOT_NEEDED"
	CodeIndexOutOfRange    ErrorCode = "INDEX_OUT_OF_RANGE"
	CodePayoutFailed       ErrorCode = "PAYOUT_FAILED"
	CodeNonexistentRequest ErrorCode = "NONEXISTENT_REQUEST"
	CodeConflict           ErrorCode = "CONFLICT"
	CodeInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	CodeUnavailable        ErrorCode = "SERVICE_UNAVAILABLE"
)

// ServiceError is an error with an HTTP mapping.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds a detail entry and returns the same error.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError.
func New(code ErrorCode, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

// Wrap creates a ServiceError wrapping err.
func Wrap(code ErrorCode, message string, status int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized, err)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "Forbidden"
	}
	return New(CodeForbidden, message, http.StatusForbidden)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(CodeInvalidFormat, fmt.Sprintf("Invalid format for %s", field), http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func NotFound(resource string) *ServiceError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}
