package tts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// Chain implements Synthesizer by trying multiple synthesizers in order.
// The first success wins. Input errors and cancellation stop the chain,
// since a different backend would fail the same way.
type Chain struct {
	providers []Synthesizer
	logger    *slog.Logger
}

// NewChain creates a chain that tries synthesizers in order.
// At least one synthesizer is required.
func NewChain(providers ...Synthesizer) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}

	return &Chain{
		providers: providers,
		logger:    slog.Default().With("component", "tts.chain"),
	}, nil
}

// NewChainWithLogger creates a chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Synthesizer) (*Chain, error) {
	chain, err := NewChain(providers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "tts.chain")
	return chain, nil
}

// Synthesize tries each synthesizer until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*Result, error) {
	var errs []error

	for i, p := range c.providers {
		result, err := p.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded",
					"provider_index", i,
					"chars", len(text),
				)
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

// Health returns an error only when every synthesizer is unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error

	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
		} else {
			healthy++
		}
	}

	if healthy == 0 {
		return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
	}

	c.logger.Debug("health check complete",
		"healthy", healthy,
		"total", len(c.providers),
	)
	return nil
}

// Close closes all synthesizers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the synthesizers in the chain.
func (c *Chain) Providers() []Synthesizer {
	return c.providers
}

// ChainError aggregates errors from all synthesizers in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "tts chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: all %d providers failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

var _ Synthesizer = (*Chain)(nil)
