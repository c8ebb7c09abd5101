package inference

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when API key is required but missing.
	ErrNoAPIKey = resilience.WithKind(errors.New("inference: API key required"), resilience.KindPermanent)

	// ErrNoModel is returned when model is required but missing.
	ErrNoModel = resilience.WithKind(errors.New("inference: model required"), resilience.KindPermanent)

	// ErrEmptyPrompt is returned when there is nothing to reply to.
	ErrEmptyPrompt = resilience.WithKind(errors.New("inference: empty prompt"), resilience.KindInput)

	// ErrProviderUnavailable is returned when no providers are available.
	ErrProviderUnavailable = errors.New("inference: provider unavailable")

	// ErrStreamClosed is returned when reading from a closed stream.
	ErrStreamClosed = resilience.WithKind(errors.New("inference: stream closed"), resilience.KindCancelled)

	// ErrStreamTruncated is returned when the connection ends before the
	// backend signalled completion.
	ErrStreamTruncated = resilience.WithKind(errors.New("inference: stream ended unexpectedly"), resilience.KindTransient)
)

// APIError represents an error response from an inference API.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the API.
	Message string

	// Code is the error code (if provided).
	Code string

	// Provider identifies which provider returned the error.
	Provider string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference [%s]: API error %d (%s): %s",
			e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference [%s]: API error %d: %s",
		e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError() || e.StatusCode == 408
}

// ErrorKind maps the HTTP status onto the pipeline's error kinds.
func (e *APIError) ErrorKind() resilience.Kind {
	switch {
	case e.IsRetryable():
		return resilience.KindTransient
	case e.StatusCode == 400 || e.StatusCode == 413 || e.StatusCode == 422:
		return resilience.KindInput
	default:
		return resilience.KindPermanent
	}
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError aggregates errors from all providers in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "inference chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("inference chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("inference chain: all %d providers failed, last error: %v",
		len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}
