package stt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// Chain implements Transcriber by trying multiple transcribers in order.
// Input errors and cancellation stop the chain.
type Chain struct {
	providers []Transcriber
	logger    *slog.Logger
}

// NewChain creates a chain that tries transcribers in order.
func NewChain(providers ...Transcriber) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		logger:    slog.Default().With("component", "stt.chain"),
	}, nil
}

// NewChainWithLogger creates a chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Transcriber) (*Chain, error) {
	chain, err := NewChain(providers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "stt.chain")
	return chain, nil
}

// Transcribe tries each transcriber until one succeeds.
func (c *Chain) Transcribe(ctx context.Context, buf audioio.Buffer) (*Result, error) {
	var errs []error

	for i, p := range c.providers {
		result, err := p.Transcribe(ctx, buf)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i)
			}
			return result, nil
		}

		errs = append(errs, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if kind := resilience.KindOf(err); kind == resilience.KindInput || kind == resilience.KindCancelled {
			return nil, err
		}
		c.logger.Warn("provider failed, trying next",
			"provider_index", i,
			"error", err,
		)
	}

	return nil, &ChainError{Errors: errs}
}

// Health returns an error only when every transcriber is unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
}

// Close closes all transcribers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChainError aggregates errors from all transcribers in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "stt chain: no errors recorded"
	}
	return fmt.Sprintf("stt chain: all %d providers failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

var _ Transcriber = (*Chain)(nil)
