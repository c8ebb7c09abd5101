package stt

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
)

// DefaultMockText is what NewMock transcribes every clip to.
const DefaultMockText = "This is a test transcription"

// Mock implements Transcriber for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, the mock cycles through Responses.
	TranscribeFunc func(ctx context.Context, buf audioio.Buffer) (*Result, error)

	// Responses are returned in order, wrapping around.
	Responses []string

	// Latency is slept before answering.
	Latency time.Duration

	HealthFunc func(ctx context.Context) error

	mu    sync.Mutex
	next  int
	calls []audioio.Buffer
}

// NewMock creates a mock that returns the given responses in turn, or
// DefaultMockText when none are given.
func NewMock(responses ...string) *Mock {
	if len(responses) == 0 {
		responses = []string{DefaultMockText}
	}
	return &Mock{Responses: responses}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, buf audioio.Buffer) (*Result, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// Transcribe records the call and returns the next response.
func (m *Mock) Transcribe(ctx context.Context, buf audioio.Buffer) (*Result, error) {
	start := time.Now()

	m.mu.Lock()
	m.calls = append(m.calls, buf)
	text := ""
	if len(m.Responses) > 0 {
		text = m.Responses[m.next%len(m.Responses)]
		m.next++
	}
	m.mu.Unlock()

	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, buf)
	}
	return &Result{
		Text:     text,
		Language: "en",
		Duration: buf.Duration(),
		Latency:  time.Since(start),
	}, nil
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

// CallCount returns how many times Transcribe was called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastAudio returns the most recent input, if any.
func (m *Mock) LastAudio() (audioio.Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return audioio.Buffer{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Reset clears call tracking and rewinds the responses.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.next = 0
}

var _ Transcriber = (*Mock)(nil)
