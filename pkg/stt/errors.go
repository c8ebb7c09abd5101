package stt

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = resilience.WithKind(errors.New("stt: API key required"), resilience.KindPermanent)

	// ErrAudioTooShort is returned for clips shorter than MinDuration.
	ErrAudioTooShort = resilience.WithKind(errors.New("stt: audio too short"), resilience.KindInput)

	// ErrAudioTooLong is returned for uploads larger than MaxBytes.
	ErrAudioTooLong = resilience.WithKind(errors.New("stt: audio too long"), resilience.KindInput)

	// ErrUnsupportedFormat is returned for non-canonical audio.
	ErrUnsupportedFormat = resilience.WithKind(errors.New("stt: unsupported audio format"), resilience.KindInput)

	// ErrServiceUnavailable is returned when the backend cannot be reached.
	ErrServiceUnavailable = resilience.WithKind(errors.New("stt: service unavailable"), resilience.KindTransient)

	// ErrAuth is returned when the backend rejects the credentials.
	ErrAuth = resilience.WithKind(errors.New("stt: authentication failed"), resilience.KindPermanent)

	// ErrProviderUnavailable is returned when no providers are available.
	ErrProviderUnavailable = errors.New("stt: no providers available")
)

// APIError represents an error response from a transcription API.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("stt [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable returns true for rate limiting, timeouts and server errors.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 408 || (e.StatusCode >= 500 && e.StatusCode < 600)
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

// Unwrap lets errors.Is match ErrAuth for rejected credentials.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrAuth
	}
	return nil
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("stt [%s]: %v", e.Provider, e.Err)
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
