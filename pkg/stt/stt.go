// Package stt provides a unified interface for speech-to-text backends.
//
// Transcribers accept canonical audio (mono, 16 kHz, 16-bit PCM) as produced
// by audioio.Normalize. Like the synthesizers in package tts, they make one
// attempt per call and leave retry to the caller.
//
// Example usage:
//
//	tr, _ := stt.NewOpenAI(stt.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	defer tr.Close()
//
//	res, _ := tr.Transcribe(ctx, buf)
//	fmt.Println(res.Text)
package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
)

// Upload limits accepted by hosted transcription APIs.
const (
	MinDuration = 100 * time.Millisecond
	MaxBytes    = 25 << 20
)

// Transcriber converts one utterance of audio into text.
type Transcriber interface {
	// Transcribe returns the text spoken in buf.
	Transcribe(ctx context.Context, buf audioio.Buffer) (*Result, error)

	// Health checks backend connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the transcriber.
	Close() error
}

// Result is a transcription result.
type Result struct {
	Text     string
	Language string

	// Duration is the audio length the backend reported, or the input length.
	Duration time.Duration

	// Latency is the wall time of the backend call.
	Latency time.Duration
}

// Validate checks that buf is canonical and within upload limits.
func Validate(buf audioio.Buffer) error {
	if !buf.IsCanonical() {
		return fmt.Errorf("%w: got %d Hz, %d ch, %d-bit",
			ErrUnsupportedFormat, buf.SampleRate, buf.Channels, buf.BitDepth)
	}
	if d := buf.Duration(); d < MinDuration {
		return fmt.Errorf("%w: %v", ErrAudioTooShort, d)
	}
	if len(buf.Data)+44 > MaxBytes {
		return fmt.Errorf("%w: %d bytes", ErrAudioTooLong, len(buf.Data))
	}
	return nil
}
