package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeSkip represents expected non-answers (structured intake forms)
	ErrorTypeSkip ErrorType = "skip"
	// ErrorTypeContention represents lock contention (another worker is generating)
	ErrorTypeContention ErrorType = "contention"
	// ErrorTypeUpstream represents embedding or generation backend failures (502)
	ErrorTypeUpstream ErrorType = "upstream"
	// ErrorTypeValidation represents validation errors (400)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents resource not found errors (404)
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeCircuitBreaker represents circuit breaker errors (503)
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"
	// ErrorTypeInternal represents internal server errors (500)
	ErrorTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows error unwrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status code for the error type
func (e *AppError) StatusCode() int {
	switch e.Type {
	case ErrorTypeSkip:
		return http.StatusUnprocessableEntity
	case ErrorTypeContention:
		return http.StatusConflict
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeCircuitBreaker:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewSkipError marks a message that is intentionally not auto-answered.
// Callers branch on it via IsSkip; it is an expected outcome, not a fault.
func NewSkipError(reason string) *AppError {
	return &AppError{
		Type:      ErrorTypeSkip,
		Message:   reason,
		Code:      "GENERATION_SKIPPED",
		Retryable: false,
	}
}

// NewContentionError signals that another worker holds the generation lock
// for this message and no completed record appeared within the wait bound.
func NewContentionError(messageID uint) *AppError {
	return &AppError{
		Type:      ErrorTypeContention,
		Message:   fmt.Sprintf("generation already in progress for message %d", messageID),
		Code:      "GENERATION_IN_PROGRESS",
		Retryable: true,
	}
}

// NewUpstreamError creates an error for embedding/generation backend failures
func NewUpstreamError(backend, message string, cause error) *AppError {
	return &AppError{
		Type:      ErrorTypeUpstream,
		Message:   fmt.Sprintf("backend %s error: %s", backend, message),
		Code:      fmt.Sprintf("UPSTREAM_%s_ERROR", backend),
		Retryable: true,
		Cause:     cause,
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrorTypeValidation,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewNotFoundError creates a resource not found error
func NewNotFoundError(resource string, id uint) *AppError {
	return &AppError{
		Type:      ErrorTypeNotFound,
		Message:   fmt.Sprintf("%s %d not found", resource, id),
		Retryable: false,
	}
}

// NewCircuitBreakerError creates a circuit breaker error
func NewCircuitBreakerError(service string) *AppError {
	return &AppError{
		Type:      ErrorTypeCircuitBreaker,
		Message:   fmt.Sprintf("service %s is currently unavailable (circuit breaker open)", service),
		Code:      "CIRCUIT_BREAKER_OPEN",
		Retryable: true,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrorTypeInternal,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// IsSkip reports whether err is an expected skip outcome
func IsSkip(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeSkip
}

// IsContention reports whether err is a retryable lock-contention outcome
func IsContention(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeContention
}

// AsAppError converts any error into an AppError, wrapping unknown errors
// as internal so the API layer always has a mappable type.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("an unexpected error occurred", err)
}
