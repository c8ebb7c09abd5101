package rtpaudio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/teslashibe/go-voicestream/internal/log"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

// SinkConfig configures the outbound sinks.
type SinkConfig struct {
	Channels int  `yaml:"channels" json:"channels"`
	Bitrate  int  `yaml:"bitrate" json:"bitrate"`
	Pace     bool `yaml:"pace" json:"pace"` // send frames in real time

	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultSinkConfig returns mono 32kbps paced output.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{Channels: 1, Bitrate: 32000, Pace: true}
}

// pacer releases frames no faster than real time.
type pacer struct {
	enabled bool
	start   time.Time
	ahead   time.Duration
}

func (p *pacer) wait(ctx context.Context, d time.Duration) error {
	if !p.enabled {
		return ctx.Err()
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}
	due := p.start.Add(p.ahead)
	p.ahead += d

	wait := time.Until(due)
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SinkStats counts what a sink has sent.
type SinkStats struct {
	Segments int64
	Packets  int64
	Bytes    int64
}

type counters struct {
	segments, packets, bytes atomic.Int64
}

func (c *counters) snapshot() SinkStats {
	return SinkStats{Segments: c.segments.Load(), Packets: c.packets.Load(), Bytes: c.bytes.Load()}
}

// UDPSink streams segments as Opus RTP to a UDP peer.
type UDPSink struct {
	cfg    SinkConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	enc  *Encoder
	pkt  *Packetizer

	counters
}

// DialUDP creates a sink sending to addr.
func DialUDP(addr string, cfg SinkConfig) (*UDPSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtpaudio: dial %s: %w", addr, err)
	}
	s, err := NewUDPSink(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewUDPSink sends on an already connected socket. The sink owns conn.
func NewUDPSink(conn net.Conn, cfg SinkConfig) (*UDPSink, error) {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	enc, err := NewEncoder(cfg.Channels, cfg.Bitrate)
	if err != nil {
		return nil, err
	}
	return &UDPSink{
		cfg:    cfg,
		logger: log.Component(cfg.Logger, "rtpaudio.UDPSink"),
		conn:   conn,
		enc:    enc,
		pkt:    NewPacketizer(0),
	}, nil
}

// SSRC returns the stream's synchronization source.
func (s *UDPSink) SSRC() uint32 { return s.pkt.SSRC() }

// WriteSegment implements voice.Sink.
func (s *UDPSink) WriteSegment(ctx context.Context, seg voice.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames, err := s.enc.Encode(seg.Audio)
	if err != nil {
		return err
	}
	s.pkt.StartSpurt()
	pace := pacer{enabled: s.cfg.Pace}
	for _, pkt := range s.pkt.Packetize(frames) {
		if err := pace.wait(ctx, FrameDuration); err != nil {
			return err
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtpaudio: marshal rtp: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			return fmt.Errorf("rtpaudio: send: %w", err)
		}
		s.packets.Add(1)
		s.bytes.Add(int64(len(raw)))
	}
	s.segments.Add(1)
	s.logger.Debug("sent segment",
		"ordinal", seg.Ordinal,
		"frames", len(frames),
		"ssrc", s.pkt.SSRC(),
	)
	return nil
}

// Stats returns send counters.
func (s *UDPSink) Stats() SinkStats { return s.snapshot() }

// Close closes the socket.
func (s *UDPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc.Close()
	return s.conn.Close()
}

// SampleWriter is satisfied by *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// NewTrack creates a local Opus track for a peer connection.
func NewTrack(id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: SampleRate,
		Channels:  2,
	}, id, streamID)
}

// TrackSink writes segments to a WebRTC track. The track handles RTP
// framing; the sink only encodes and paces.
type TrackSink struct {
	cfg    SinkConfig
	logger *slog.Logger

	mu  sync.Mutex
	w   SampleWriter
	enc *Encoder

	counters
}

// NewTrackSink creates a sink writing to w.
func NewTrackSink(w SampleWriter, cfg SinkConfig) (*TrackSink, error) {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	enc, err := NewEncoder(cfg.Channels, cfg.Bitrate)
	if err != nil {
		return nil, err
	}
	return &TrackSink{
		cfg:    cfg,
		logger: log.Component(cfg.Logger, "rtpaudio.TrackSink"),
		w:      w,
		enc:    enc,
	}, nil
}

// WriteSegment implements voice.Sink.
func (s *TrackSink) WriteSegment(ctx context.Context, seg voice.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames, err := s.enc.Encode(seg.Audio)
	if err != nil {
		return err
	}
	pace := pacer{enabled: s.cfg.Pace}
	for _, f := range frames {
		if err := pace.wait(ctx, f.Duration()); err != nil {
			return err
		}
		if err := s.w.WriteSample(media.Sample{Data: f.Data, Duration: f.Duration()}); err != nil {
			return fmt.Errorf("rtpaudio: write sample: %w", err)
		}
		s.packets.Add(1)
		s.bytes.Add(int64(len(f.Data)))
	}
	s.segments.Add(1)
	s.logger.Debug("wrote segment", "ordinal", seg.Ordinal, "frames", len(frames))
	return nil
}

// Stats returns send counters.
func (s *TrackSink) Stats() SinkStats { return s.snapshot() }

var (
	_ voice.Sink   = (*UDPSink)(nil)
	_ voice.Sink   = (*TrackSink)(nil)
	_ SampleWriter = (*webrtc.TrackLocalStaticSample)(nil)
)
