// ABOUTME: Structured error type following alt-backend AppContextError pattern
// ABOUTME: Provides layered context, HTTP mapping, and retryability classification
package apperrors

import (
	"fmt"
	"net/http"
)

// Error codes used across the engine.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND_ERROR"
	CodeCapabilityUnavailable  = "CAPABILITY_UNAVAILABLE"
	CodeExternalAPI            = "EXTERNAL_API_ERROR"
	CodeMalformedResponse      = "MALFORMED_RESPONSE"
	CodeTimeout                = "TIMEOUT_ERROR"
	CodeDatabase               = "DATABASE_ERROR"
	CodeQuotaExceeded          = "QUOTA_EXCEEDED"
	CodeInternal               = "INTERNAL_ERROR"
)

// AppContextError represents an error with layered context information.
type AppContextError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Layer     string         `json:"layer,omitempty"`
	Component string         `json:"component,omitempty"`
	Operation string         `json:"operation,omitempty"`
	Cause     error          `json:"-"`
	Context   map[string]any `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *AppContextError) Error() string {
	var prefix string
	if e.Layer != "" && e.Component != "" && e.Operation != "" {
		prefix = fmt.Sprintf("[%s:%s:%s] ", e.Layer, e.Component, e.Operation)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s%s: %s (caused by: %v)", prefix, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s%s: %s", prefix, e.Code, e.Message)
}

// Unwrap returns the underlying error for error chain unwrapping.
func (e *AppContextError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode maps error codes to HTTP status codes.
func (e *AppContextError) HTTPStatusCode() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeCapabilityUnavailable:
		return http.StatusServiceUnavailable
	case CodeExternalAPI, CodeMalformedResponse:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable determines if the error represents a retryable condition.
// Malformed responses and unavailable capabilities are not retryable within
// a cycle; transient transport failures are.
func (e *AppContextError) IsRetryable() bool {
	switch e.Code {
	case CodeTimeout, CodeExternalAPI, CodeQuotaExceeded:
		return true
	default:
		return false
	}
}

// New creates a new AppContextError with full context.
func New(code, message, layer, component, operation string, cause error, context map[string]any) *AppContextError {
	return &AppContextError{
		Code:      code,
		Message:   message,
		Layer:     layer,
		Component: component,
		Operation: operation,
		Cause:     cause,
		Context:   context,
	}
}
