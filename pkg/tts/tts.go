// Package tts provides a unified interface for text-to-speech backends.
//
// Every Synthesizer returns raw PCM in an audioio.Buffer so the pipeline can
// reassemble, packetize, or write segments without decoding. Implementations
// make exactly one attempt per call; retry and rate limiting belong to the
// caller (see package resilience).
//
// Example usage:
//
//	synth, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice("rachel"),
//	)
//	defer synth.Close()
//
//	result, _ := synth.Synthesize(ctx, "Hello world.")
//	// result.Audio is 24 kHz mono PCM16
package tts

import (
	"context"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
)

// Synthesizer converts one sentence of text into audio.
type Synthesizer interface {
	// Synthesize renders text to a complete PCM buffer.
	Synthesize(ctx context.Context, text string) (*Result, error)

	// Health checks backend connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the synthesizer.
	Close() error
}

// Result is a complete synthesis result.
type Result struct {
	// Audio is PCM16 little-endian audio.
	Audio audioio.Buffer

	// CharCount is the number of characters synthesized.
	CharCount int

	// Latency is the wall time of the backend call.
	Latency time.Duration
}

// Duration returns the playback length of the audio.
func (r *Result) Duration() time.Duration {
	return r.Audio.Duration()
}

// Encoding names a PCM output format. Values match ElevenLabs output_format.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000" // OpenAI speech pcm output rate
	EncodingPCM44 Encoding = "pcm_44100"
)

// SampleRate returns the sample rate of the encoding.
func (e Encoding) SampleRate() int {
	switch e {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM44:
		return 44100
	default:
		return 24000
	}
}

// VoiceSettings controls voice characteristics for backends that support it.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0).
	Style float64

	SpeakerBoost bool
}

// DefaultVoiceSettings returns sensible defaults for voice synthesis.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		SpeakerBoost:    true,
	}
}

func pcmResult(data []byte, enc Encoding, text string, start time.Time) *Result {
	return &Result{
		Audio:     audioio.NewPCM16(data, enc.SampleRate(), 1),
		CharCount: len(text),
		Latency:   time.Since(start),
	}
}
