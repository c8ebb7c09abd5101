package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// Chain tries multiple generators in order until one succeeds.
//
// A generator that fails before producing its first token is replaced by the
// next one, including failures that only surface on the first Recv. Once a
// token has been delivered the stream is committed and later errors are
// returned as is.
type Chain struct {
	providers []Generator
	logger    *slog.Logger
}

// NewChain creates a generator chain.
// At least one generator is required.
func NewChain(providers ...Generator) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		logger:    slog.Default().With("component", "inference.chain"),
	}, nil
}

// NewChainWithLogger creates a generator chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Generator) (*Chain, error) {
	chain, err := NewChain(providers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "inference.chain")
	return chain, nil
}

// Generate opens a stream on the first generator that accepts the request.
func (c *Chain) Generate(ctx context.Context, req *Request) (Stream, error) {
	cs := &chainStream{chain: c, ctx: ctx, req: req}
	if err := cs.open(); err != nil {
		return nil, err
	}
	return cs, nil
}

// Health returns an error only when every generator is unhealthy.
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
	return nil
}

// Close closes all generators.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the generators in the chain.
func (c *Chain) Providers() []Generator {
	return c.providers
}

// stopsChain reports whether err would fail the same way on every backend.
func stopsChain(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	kind := resilience.KindOf(err)
	return kind == resilience.KindInput || kind == resilience.KindCancelled
}

type chainStream struct {
	chain *Chain
	ctx   context.Context
	req   *Request

	next    int
	cur     Stream
	started bool
	errs    []error
}

// open advances to the next generator that opens a stream.
func (s *chainStream) open() error {
	for s.next < len(s.chain.providers) {
		i := s.next
		s.next++

		stream, err := s.chain.providers[i].Generate(s.ctx, s.req)
		if err == nil {
			if i > 0 {
				s.chain.logger.Info("fallback provider stream succeeded", "provider_index", i)
			}
			s.cur = stream
			return nil
		}
		if stopsChain(s.ctx, err) {
			return err
		}
		s.errs = append(s.errs, err)
		s.chain.logger.Warn("provider failed, trying next",
			"provider_index", i,
			"error", err,
		)
	}
	return &ChainError{Errors: s.errs}
}

func (s *chainStream) Recv() (Token, error) {
	for {
		if s.cur == nil {
			return Token{}, ErrStreamClosed
		}
		tok, err := s.cur.Recv()
		if err == nil {
			s.started = true
			return tok, nil
		}
		if s.started || errors.Is(err, io.EOF) || stopsChain(s.ctx, err) {
			return Token{}, err
		}

		s.errs = append(s.errs, err)
		s.chain.logger.Warn("provider failed before first token, trying next",
			"provider_index", s.next-1,
			"error", err,
		)
		s.cur.Close()
		s.cur = nil
		if err := s.open(); err != nil {
			return Token{}, err
		}
	}
}

func (s *chainStream) Close() error {
	if s.cur == nil {
		return nil
	}
	return s.cur.Close()
}

var _ Generator = (*Chain)(nil)
