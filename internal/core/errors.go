package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the canonical failure category surfaced to callers.
type ErrorKind string

const (
	// ErrorKindInvalidRequest indicates a malformed or rejected request (400)
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	// ErrorKindAuthFailure indicates the vendor rejected our credentials (401)
	ErrorKindAuthFailure ErrorKind = "auth_failure"
	// ErrorKindRateLimited indicates a vendor quota or rate limit (429)
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindProviderUnavailable indicates a vendor outage, timeout or dropped connection (503)
	ErrorKindProviderUnavailable ErrorKind = "provider_unavailable"
	// ErrorKindUnsupported indicates the provider or operation is not offered (501)
	ErrorKindUnsupported ErrorKind = "unsupported"
	// ErrorKindUnknown covers anything unrecognized (500)
	ErrorKindUnknown ErrorKind = "unknown"
)

var (
	// ErrStreamingUnsupported is returned by adapters without a streaming endpoint.
	ErrStreamingUnsupported = errors.New("streaming is not supported by this provider")

	// ErrStreamCancelled terminates a stream that the caller cancelled.
	ErrStreamCancelled = errors.New("stream cancelled")

	// ErrCircuitOpen is returned while a provider's circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// GatewayError is the canonical error type. No vendor error type crosses the
// gateway boundary without being converted into one of these.
type GatewayError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	// Field names the offending request field for validation errors.
	Field string `json:"field,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status the transport layer should use.
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindAuthFailure:
		return http.StatusUnauthorized
	case ErrorKindInvalidRequest:
		return http.StatusBadRequest
	case ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case ErrorKindProviderUnavailable:
		return http.StatusServiceUnavailable
	case ErrorKindUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"kind":      e.Kind,
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	if e.Provider != "" {
		body["provider"] = e.Provider
	}
	if e.Field != "" {
		body["field"] = e.Field
	}
	return map[string]interface{}{"error": body}
}

// NewInvalidRequestError creates a validation error naming the offending field.
func NewInvalidRequestError(field, message string) *GatewayError {
	return &GatewayError{
		Kind:    ErrorKindInvalidRequest,
		Message: message,
		Field:   field,
	}
}

// NewAuthFailureError creates a non-retryable credential error.
func NewAuthFailureError(provider, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:     ErrorKindAuthFailure,
		Message:  message,
		Provider: provider,
		Err:      err,
	}
}

// NewRateLimitedError creates a retryable rate limit error.
func NewRateLimitedError(provider, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:      ErrorKindRateLimited,
		Message:   message,
		Retryable: true,
		Provider:  provider,
		Err:       err,
	}
}

// NewProviderUnavailableError creates a retryable outage error.
func NewProviderUnavailableError(provider, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:      ErrorKindProviderUnavailable,
		Message:   message,
		Retryable: true,
		Provider:  provider,
		Err:       err,
	}
}

// NewUnsupportedError creates an error for unknown providers or unoffered operations.
func NewUnsupportedError(provider, message string) *GatewayError {
	return &GatewayError{
		Kind:     ErrorKindUnsupported,
		Message:  message,
		Provider: provider,
	}
}

// NewUnknownError wraps an unrecognized failure.
func NewUnknownError(provider, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:     ErrorKindUnknown,
		Message:  message,
		Provider: provider,
		Err:      err,
	}
}

// UpstreamError is how adapters report a non-success vendor HTTP response.
// It is classified by the gateway's error translator and never returned to callers.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       []byte
	// Message is the vendor's human-readable error text, when one could be extracted.
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Body)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.StatusCode, msg)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
