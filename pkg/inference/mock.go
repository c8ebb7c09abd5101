package inference

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultMockResponse is what NewMock replies with.
const DefaultMockResponse = "Hello! I'm your voice assistant. How can I help you today?"

// Mock implements Generator for testing. Replies are split into word
// tokens with the separating spaces as tokens of their own, and each token
// is delayed by TokenDelay.
type Mock struct {
	// Response is the default reply.
	Response string

	// Rules pick a reply by case-insensitive substring match on the
	// prompt. The first match wins.
	Rules []Rule

	// TokenDelay is slept before each token.
	TokenDelay time.Duration

	// FailAfter, when >= 0, makes Recv return FailErr (ErrStreamTruncated
	// when nil) after that many tokens.
	FailAfter int
	FailErr   error

	// GenerateFunc replaces the default behaviour when set.
	GenerateFunc func(ctx context.Context, req *Request) (Stream, error)

	HealthFunc func(ctx context.Context) error

	mu    sync.Mutex
	calls []*Request
}

// Rule maps a prompt substring to a reply.
type Rule struct {
	Contains string
	Response string
}

// NewMock creates a mock generator with a fixed reply. An empty response
// selects DefaultMockResponse.
func NewMock(response string) *Mock {
	if response == "" {
		response = DefaultMockResponse
	}
	return &Mock{
		Response:   response,
		TokenDelay: 10 * time.Millisecond,
		FailAfter:  -1,
	}
}

// WithError returns a mock whose Generate always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		FailAfter: -1,
		GenerateFunc: func(ctx context.Context, req *Request) (Stream, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// Generate records the request and streams the matching reply.
func (m *Mock) Generate(ctx context.Context, req *Request) (Stream, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &SliceStream{
		ctx:       ctx,
		tokens:    Tokenize(m.reply(req.Prompt)),
		delay:     m.TokenDelay,
		failAfter: m.FailAfter,
		failErr:   m.FailErr,
	}, nil
}

func (m *Mock) reply(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, r := range m.Rules {
		if strings.Contains(lower, strings.ToLower(r.Contains)) {
			return r.Response
		}
	}
	return m.Response
}

// Health calls HealthFunc when set.
func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close is a no-op.
func (m *Mock) Close() error {
	return nil
}

// Requests returns the recorded requests.
func (m *Mock) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Generate was called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Tokenize splits text into word tokens, emitting the single space between
// words as its own token.
func Tokenize(text string) []string {
	words := strings.Fields(text)
	tokens := make([]string, 0, 2*len(words))
	for i, w := range words {
		if i > 0 {
			tokens = append(tokens, " ")
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// NewSliceStream streams the given tokens without delay.
func NewSliceStream(ctx context.Context, tokens ...string) *SliceStream {
	return &SliceStream{ctx: ctx, tokens: tokens, failAfter: -1}
}

// SliceStream is a Stream over a fixed list of tokens.
type SliceStream struct {
	ctx       context.Context
	tokens    []string
	delay     time.Duration
	failAfter int
	failErr   error

	mu     sync.Mutex
	pos    int
	closed bool
	stop   chan struct{}
}

// Recv returns the next token after the configured delay.
func (s *SliceStream) Recv() (Token, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Token{}, ErrStreamClosed
	}
	if s.stop == nil {
		s.stop = make(chan struct{})
	}
	stop := s.stop
	pos := s.pos
	s.mu.Unlock()

	if s.failAfter >= 0 && pos >= s.failAfter {
		if s.failErr == nil {
			return Token{}, ErrStreamTruncated
		}
		return Token{}, s.failErr
	}
	if pos >= len(s.tokens) {
		return Token{}, io.EOF
	}

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			return Token{}, s.ctx.Err()
		case <-stop:
			return Token{}, ErrStreamClosed
		}
	} else if err := s.ctx.Err(); err != nil {
		return Token{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Token{}, ErrStreamClosed
	}
	s.pos++
	return Token{Index: pos, Text: s.tokens[pos]}, nil
}

// Close abandons the stream.
func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stop != nil {
		close(s.stop)
	}
	return nil
}

var _ Generator = (*Mock)(nil)
