// Package audioio holds the PCM buffer type shared by every pipeline stage
// and the conversions between capture formats and the canonical format
// transcription backends expect.
package audioio

import (
	"errors"
	"fmt"
	"time"
)

// Canonical format for transcription input.
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	CanonicalBitDepth   = 16

	// MaxChannels is the widest channel layout the normalizer accepts.
	MaxChannels = 8
)

// ErrUnsupportedFormat is returned for bit depths or channel layouts the
// normalizer cannot read.
var ErrUnsupportedFormat = errors.New("audioio: unsupported format")

// Buffer is a block of interleaved little-endian PCM audio.
// Buffers are passed by value; stages never mutate a buffer they received.
type Buffer struct {
	Data       []byte `json:"-"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// NewPCM16 wraps 16-bit little-endian PCM bytes.
func NewPCM16(data []byte, sampleRate, channels int) Buffer {
	return Buffer{Data: data, SampleRate: sampleRate, Channels: channels, BitDepth: 16}
}

// FromSamples builds a 16-bit buffer from int16 samples.
func FromSamples(samples []int16, sampleRate, channels int) Buffer {
	return NewPCM16(SamplesToBytes(samples), sampleRate, channels)
}

// BytesPerSample returns the byte width of one sample.
func (b Buffer) BytesPerSample() int {
	return b.BitDepth / 8
}

// Frames returns the number of sample frames (one sample per channel).
func (b Buffer) Frames() int {
	width := b.BytesPerSample() * b.Channels
	if width <= 0 {
		return 0
	}
	return len(b.Data) / width
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Empty reports whether the buffer holds no complete frame.
func (b Buffer) Empty() bool {
	return b.Frames() == 0
}

// IsCanonical reports whether b is mono 16 kHz 16-bit PCM.
func (b Buffer) IsCanonical() bool {
	return b.SampleRate == CanonicalSampleRate &&
		b.Channels == CanonicalChannels &&
		b.BitDepth == CanonicalBitDepth
}

// Validate checks that the buffer describes a readable PCM layout.
func (b Buffer) Validate() error {
	switch b.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, b.BitDepth)
	}
	if b.Channels < 1 || b.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, b.Channels)
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, b.SampleRate)
	}
	return nil
}

// Samples returns the buffer as int16 samples. Only valid for 16-bit buffers.
func (b Buffer) Samples() []int16 {
	return BytesToSamples(b.Data)
}

// Clone returns a deep copy of the buffer.
func (b Buffer) Clone() Buffer {
	c := b
	c.Data = append([]byte(nil), b.Data...)
	return c
}

// Concat joins buffers that share a format. Mismatched formats are an error.
func Concat(bufs ...Buffer) (Buffer, error) {
	if len(bufs) == 0 {
		return Buffer{}, nil
	}
	out := Buffer{SampleRate: bufs[0].SampleRate, Channels: bufs[0].Channels, BitDepth: bufs[0].BitDepth}
	size := 0
	for _, b := range bufs {
		if b.SampleRate != out.SampleRate || b.Channels != out.Channels || b.BitDepth != out.BitDepth {
			return Buffer{}, fmt.Errorf("%w: cannot concat %d Hz/%dch/%d-bit with %d Hz/%dch/%d-bit",
				ErrUnsupportedFormat, out.SampleRate, out.Channels, out.BitDepth, b.SampleRate, b.Channels, b.BitDepth)
		}
		size += len(b.Data)
	}
	out.Data = make([]byte, 0, size)
	for _, b := range bufs {
		out.Data = append(out.Data, b.Data...)
	}
	return out, nil
}
