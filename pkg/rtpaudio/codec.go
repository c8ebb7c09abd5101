// Package rtpaudio carries pipeline audio over RTP as Opus.
//
// Outbound, each assembled segment is resampled to 48kHz, cut into 20ms
// frames, Opus-encoded and either packetized onto a UDP socket or written
// to a WebRTC track. Inbound, a Depacketizer decodes an Opus RTP stream
// back into a PCM buffer the pipeline can normalize.
package rtpaudio

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
)

const (
	// SampleRate is the Opus RTP clock rate.
	SampleRate = 48000

	// FrameDuration is the length of one Opus frame.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of samples per channel in one frame.
	FrameSamples = SampleRate / 1000 * 20

	// PayloadType is the dynamic payload type browsers assign to Opus.
	PayloadType = 111

	// maxPacketSize bounds one encoded Opus frame.
	maxPacketSize = 1500

	// maxFrameSamples is the longest frame Opus can produce: 120ms at 48kHz.
	maxFrameSamples = 5760
)

// ErrEncoderClosed is returned after Close.
var ErrEncoderClosed = errors.New("rtpaudio: encoder closed")

// Frame is one encoded Opus frame.
type Frame struct {
	Data    []byte
	Samples uint32 // per channel, at SampleRate
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return time.Duration(f.Samples) * time.Second / SampleRate
}

// Encoder turns PCM buffers into Opus frames. It is not safe for
// concurrent use.
type Encoder struct {
	enc      *opus.Encoder
	channels int
	pcm      []int16
	out      []byte
}

// NewEncoder creates a VoIP-tuned encoder. Bitrate <= 0 keeps the libopus
// default.
func NewEncoder(channels, bitrate int) (*Encoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("rtpaudio: opus supports 1 or 2 channels, got %d", channels)
	}
	enc, err := opus.NewEncoder(SampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("rtpaudio: create opus encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("rtpaudio: set bitrate: %w", err)
		}
	}
	return &Encoder{
		enc:      enc,
		channels: channels,
		pcm:      make([]int16, FrameSamples*channels),
		out:      make([]byte, maxPacketSize),
	}, nil
}

// Channels returns the encoder channel count.
func (e *Encoder) Channels() int { return e.channels }

// Encode converts buf to 48kHz and encodes it in 20ms frames. The final
// frame is padded with silence.
func (e *Encoder) Encode(buf audioio.Buffer) ([]Frame, error) {
	if e.enc == nil {
		return nil, ErrEncoderClosed
	}
	if buf.Empty() {
		return nil, nil
	}
	pcm, err := audioio.Normalize(buf, SampleRate, e.channels)
	if err != nil {
		return nil, err
	}
	samples := pcm.Samples()

	step := FrameSamples * e.channels
	frames := make([]Frame, 0, (len(samples)+step-1)/step)
	for off := 0; off < len(samples); off += step {
		n := copy(e.pcm, samples[off:min(off+step, len(samples))])
		clear(e.pcm[n:])

		size, err := e.enc.Encode(e.pcm, e.out)
		if err != nil {
			return nil, fmt.Errorf("rtpaudio: encode frame %d: %w", len(frames), err)
		}
		data := make([]byte, size)
		copy(data, e.out[:size])
		frames = append(frames, Frame{Data: data, Samples: FrameSamples})
	}
	return frames, nil
}

// Close releases the encoder. The libopus state is Go-allocated, so this
// only marks the encoder unusable.
func (e *Encoder) Close() error {
	e.enc = nil
	return nil
}

// Decoder turns Opus payloads back into PCM.
type Decoder struct {
	dec      *opus.Decoder
	channels int
	pcm      []int16
}

// NewDecoder creates a decoder producing 48kHz PCM.
func NewDecoder(channels int) (*Decoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("rtpaudio: opus supports 1 or 2 channels, got %d", channels)
	}
	dec, err := opus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("rtpaudio: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec, channels: channels, pcm: make([]int16, maxFrameSamples*channels)}, nil
}

// Decode returns the interleaved samples in one Opus payload. The slice is
// reused by the next call.
func (d *Decoder) Decode(payload []byte) ([]int16, error) {
	n, err := d.dec.Decode(payload, d.pcm)
	if err != nil {
		return nil, err
	}
	return d.pcm[:n*d.channels], nil
}
