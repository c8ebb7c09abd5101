package rtpaudio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/rtp"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
)

// maxConcealedFrames is the longest gap filled with silence; larger jumps
// are treated as a stream restart.
const maxConcealedFrames = 10

// DepacketizerStats counts stream irregularities.
type DepacketizerStats struct {
	Packets      int
	Malformed    int
	Lost         int
	Late         int
	DecodeErrors int
}

// Depacketizer reassembles an inbound Opus RTP stream into PCM.
// Lost packets within a short gap are replaced by silence; packets that
// arrive after a later sequence number are dropped.
type Depacketizer struct {
	dec      *Decoder
	channels int

	started bool
	lastSeq uint16
	samples []int16
	stats   DepacketizerStats
}

// NewDepacketizer creates a depacketizer decoding to the given channels.
func NewDepacketizer(channels int) (*Depacketizer, error) {
	dec, err := NewDecoder(channels)
	if err != nil {
		return nil, err
	}
	return &Depacketizer{dec: dec, channels: channels}, nil
}

// PushRaw parses and pushes one datagram.
func (d *Depacketizer) PushRaw(b []byte) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(b); err != nil {
		d.stats.Malformed++
		return fmt.Errorf("rtpaudio: unmarshal rtp: %w", err)
	}
	return d.Push(&pkt)
}

// Push decodes one packet and appends its audio.
func (d *Depacketizer) Push(pkt *rtp.Packet) error {
	if d.started {
		delta := pkt.SequenceNumber - d.lastSeq
		switch {
		case delta == 0 || delta >= 0x8000:
			d.stats.Late++
			return nil
		case delta > 1 && int(delta-1) <= maxConcealedFrames:
			missing := int(delta - 1)
			d.stats.Lost += missing
			d.samples = append(d.samples, make([]int16, missing*FrameSamples*d.channels)...)
		case delta > 1:
			d.stats.Lost += int(delta - 1)
		}
	}
	d.started = true
	d.lastSeq = pkt.SequenceNumber
	d.stats.Packets++

	if len(pkt.Payload) == 0 {
		return nil
	}
	pcm, err := d.dec.Decode(pkt.Payload)
	if err != nil {
		d.stats.DecodeErrors++
		return fmt.Errorf("rtpaudio: decode seq %d: %w", pkt.SequenceNumber, err)
	}
	d.samples = append(d.samples, pcm...)
	return nil
}

// Buffer returns everything decoded so far as 48kHz PCM.
func (d *Depacketizer) Buffer() audioio.Buffer {
	return audioio.FromSamples(append([]int16(nil), d.samples...), SampleRate, d.channels)
}

// Duration returns the length of decoded audio.
func (d *Depacketizer) Duration() time.Duration {
	frames := len(d.samples) / d.channels
	return time.Duration(frames) * time.Second / SampleRate
}

// Stats returns stream counters.
func (d *Depacketizer) Stats() DepacketizerStats { return d.stats }

// Reset forgets all audio and sequence state.
func (d *Depacketizer) Reset() {
	d.started = false
	d.samples = d.samples[:0]
	d.stats = DepacketizerStats{}
}

// Receive reads datagrams from conn until the stream has been quiet for
// idle after the first packet, maxDuration of audio has arrived, or ctx is
// done. Malformed and undecodable packets are skipped.
func (d *Depacketizer) Receive(ctx context.Context, conn net.PacketConn, idle, maxDuration time.Duration) (audioio.Buffer, error) {
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, maxPacketSize)
	for {
		if d.started && idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return d.Buffer(), ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && d.started {
				return d.Buffer(), nil
			}
			return d.Buffer(), err
		}
		// Bad datagrams are reflected in Stats.
		_ = d.PushRaw(buf[:n])
		if maxDuration > 0 && d.Duration() >= maxDuration {
			return d.Buffer(), nil
		}
	}
}
