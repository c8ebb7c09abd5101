package rtpaudio

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// DefaultMTU keeps packets under common tunnel overheads.
const DefaultMTU = 1200

// Packetizer wraps Opus frames in RTP packets with continuous sequence
// numbers and timestamps across segments.
type Packetizer struct {
	p     rtp.Packetizer
	ssrc  uint32
	spurt bool
}

// NewPacketizer creates a packetizer. A zero ssrc is replaced by a random
// one.
func NewPacketizer(ssrc uint32) *Packetizer {
	if ssrc == 0 {
		ssrc = RandomSSRC()
	}
	return &Packetizer{
		p: rtp.NewPacketizerWithOptions(
			DefaultMTU,
			&codecs.OpusPayloader{},
			rtp.NewRandomSequencer(),
			SampleRate,
			rtp.WithSSRC(ssrc),
			rtp.WithPayloadType(PayloadType),
		),
		ssrc:  ssrc,
		spurt: true,
	}
}

// RandomSSRC derives a synchronization source from a random UUID.
func RandomSSRC() uint32 {
	id := uuid.New()
	return binary.BigEndian.Uint32(id[:4])
}

// SSRC returns the synchronization source identifier.
func (p *Packetizer) SSRC() uint32 { return p.ssrc }

// StartSpurt marks the next packet as the start of a talk spurt.
func (p *Packetizer) StartSpurt() { p.spurt = true }

// Packetize returns one packet per frame, in order.
func (p *Packetizer) Packetize(frames []Frame) []*rtp.Packet {
	out := make([]*rtp.Packet, 0, len(frames))
	for _, f := range frames {
		pkts := p.p.Packetize(f.Data, f.Samples)
		if len(pkts) == 0 {
			continue
		}
		if p.spurt {
			pkts[0].Marker = true
			p.spurt = false
		} else {
			// The packetizer marks the last fragment of every payload.
			pkts[0].Marker = false
		}
		out = append(out, pkts...)
	}
	return out
}
