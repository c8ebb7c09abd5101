package tts

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
)

// MockSampleRate is the rate of audio produced by the default mock.
const MockSampleRate = 24000

// MockCharDuration is how much silence the default mock emits per character.
const MockCharDuration = 20 * time.Millisecond

// Mock implements Synthesizer for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns silent audio sized to the text.
	SynthesizeFunc func(ctx context.Context, text string) (*Result, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a mock that returns MockCharDuration of silence per
// character at MockSampleRate.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: SilenceFunc(MockCharDuration, 0),
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// SilenceFunc returns a SynthesizeFunc producing silence of perChar per
// character, or of fixed length when fixed is non-zero.
func SilenceFunc(perChar, fixed time.Duration) func(context.Context, string) (*Result, error) {
	return func(ctx context.Context, text string) (*Result, error) {
		d := fixed
		if d == 0 {
			d = time.Duration(len([]rune(text))) * perChar
		}
		return &Result{
			Audio:     audioio.Silence(MockSampleRate, d),
			CharCount: len(text),
		}, nil
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (*Result, error) {
	m.recordCall("Synthesize", text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.SynthesizeFunc == nil {
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	start := time.Now()
	result, err := m.SynthesizeFunc(ctx, text)
	if err != nil {
		return nil, err
	}
	if result.Latency == 0 {
		result.Latency = time.Since(start)
	}
	return result, nil
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) recordCall(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Text:   text,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*Result, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency wraps a mock to add artificial latency before each synthesis.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	original := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text string) (*Result, error) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if original == nil {
			return nil, WrapError("mock", ErrProviderUnavailable)
		}
		return original(ctx, text)
	}
	return m
}

var _ Synthesizer = (*Mock)(nil)
