package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// Stage names used in ErrorOccurred events.
const (
	StageCapture       = "capture"
	StageTranscription = "transcription"
	StageGeneration    = "generation"
	StageChunking      = "chunking"
	StageSynthesis     = "synthesis"
	StageAssembly      = "assembly"
	StageOutput        = "output"
)

// Common errors returned by pipelines.
var (
	ErrBusy            = errors.New("voice: turn already in progress")
	ErrCancelled       = resilience.WithKind(errors.New("voice: turn cancelled"), resilience.KindCancelled)
	ErrEmptyInput      = resilience.WithKind(errors.New("voice: empty input text"), resilience.KindInput)
	ErrEmptyTranscript = resilience.WithKind(errors.New("voice: empty transcript"), resilience.KindInput)
	ErrEmptyReply      = resilience.WithKind(errors.New("voice: generator returned no text"), resilience.KindPermanent)
	ErrNoTranscriber   = resilience.WithKind(errors.New("voice: no transcriber configured"), resilience.KindPermanent)
	ErrMissingProvider = errors.New("voice: generator and synthesizer are required")
)

// StageError records which stage a turn failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("voice: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Kind returns the resilience kind of the underlying error.
func (e *StageError) Kind() resilience.Kind { return resilience.KindOf(e.Err) }

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomeSilence   Outcome = "silence"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Segment is the synthesized audio for one sentence.
type Segment struct {
	Ordinal int            `json:"ordinal"`
	Text    string         `json:"text"`
	Audio   audioio.Buffer `json:"audio"`
	Latency time.Duration  `json:"latency"`
}

// Result is the outcome of one turn. Segments are ordered by ordinal and
// gapless. When a turn fails after some sentences were synthesized, the
// contiguous prefix is kept and Truncated is set.
type Result struct {
	TurnID     string        `json:"turn_id"`
	Outcome    Outcome       `json:"outcome"`
	Transcript string        `json:"transcript,omitempty"`
	Reply      string        `json:"reply,omitempty"`
	Segments   []Segment     `json:"segments"`
	Truncated  bool          `json:"truncated"`
	Latency    time.Duration `json:"latency"`
	Err        error         `json:"-"`
}

// OK reports whether the turn completed, including silent captures.
func (r *Result) OK() bool {
	return r.Outcome == OutcomeComplete || r.Outcome == OutcomeSilence
}

// Audio concatenates all segments into one buffer.
func (r *Result) Audio() (audioio.Buffer, error) {
	bufs := make([]audioio.Buffer, len(r.Segments))
	for i, s := range r.Segments {
		bufs[i] = s.Audio
	}
	return audioio.Concat(bufs...)
}

// Duration returns the total playback length of all segments.
func (r *Result) Duration() time.Duration {
	var d time.Duration
	for _, s := range r.Segments {
		d += s.Audio.Duration()
	}
	return d
}

// Sink consumes assembled audio. Segments arrive in ordinal order, and only
// for turns that completed.
type Sink interface {
	WriteSegment(ctx context.Context, seg Segment) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, seg Segment) error

// WriteSegment calls f.
func (f SinkFunc) WriteSegment(ctx context.Context, seg Segment) error { return f(ctx, seg) }
