package tts

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = resilience.WithKind(errors.New("tts: API key required"), resilience.KindPermanent)

	// ErrNoVoiceID is returned when the voice ID is missing.
	ErrNoVoiceID = resilience.WithKind(errors.New("tts: voice ID required"), resilience.KindPermanent)

	// ErrEmptyText is returned when asked to synthesize nothing.
	ErrEmptyText = resilience.WithKind(errors.New("tts: empty text"), resilience.KindInput)

	// ErrEmptyAudio is returned when a backend answers with no audio.
	ErrEmptyAudio = resilience.WithKind(errors.New("tts: backend returned no audio"), resilience.KindTransient)

	// ErrProviderUnavailable is returned when no providers are available.
	ErrProviderUnavailable = errors.New("tts: no providers available")
)

// APIError represents an error response from a TTS API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tts [%s]: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tts [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true for HTTP 401 and 403.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
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
	case e.StatusCode == 400 || e.StatusCode == 422:
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
	return fmt.Sprintf("tts [%s]: %v", e.Provider, e.Err)
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
