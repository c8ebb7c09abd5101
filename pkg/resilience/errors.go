package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failure for retry and reporting decisions.
type Kind string

const (
	KindUnknown          Kind = "unknown"
	KindTransient        Kind = "transient"
	KindPermanent        Kind = "permanent"
	KindInput            Kind = "input"
	KindRateLimitTimeout Kind = "rate_limit_timeout"
	KindCancelled        Kind = "cancelled"
)

// Classifier is implemented by errors that know their own kind.
type Classifier interface {
	ErrorKind() Kind
}

// ErrRateLimitTimeout is returned when a token could not be acquired in time.
var ErrRateLimitTimeout = WithKind(errors.New("resilience: rate limit timeout"), KindRateLimitTimeout)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() error   { return e.err }
func (e *kindError) ErrorKind() Kind { return e.kind }

// WithKind marks err with a kind. The returned error unwraps to err.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf resolves the kind of err. The first Classifier found in the
// chain wins; context and network errors are recognised after that.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.ErrorKind()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}

// IsRetryable is the default retry predicate: only transient failures retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// AttemptsError carries the number of attempts made before giving up.
// It unwraps to the last underlying error unchanged.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error { return e.Err }

// Attempts reports how many attempts produced err, or 0 if unknown.
func Attempts(err error) int {
	var ae *AttemptsError
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 0
}
