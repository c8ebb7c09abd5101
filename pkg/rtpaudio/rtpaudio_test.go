package rtpaudio

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

// 250ms rounds up to 13 frames of 20ms.
const (
	testDuration = 250 * time.Millisecond
	testFrames   = 13
)

func testSegment() voice.Segment {
	return voice.Segment{Ordinal: 0, Text: "Hello.", Audio: audioio.Sine(440, 0.5, 16000, testDuration)}
}

func encodeTest(t *testing.T) []Frame {
	t.Helper()
	enc, err := NewEncoder(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	frames, err := enc.Encode(testSegment().Audio)
	if err != nil {
		t.Fatal(err)
	}
	return frames
}

func TestPacketizer(t *testing.T) {
	frames := make([]Frame, 4)
	for i := range frames {
		frames[i] = Frame{Data: []byte{0xfc, byte(i)}, Samples: FrameSamples}
	}

	p := NewPacketizer(1234)
	pkts := p.Packetize(frames)
	if len(pkts) != len(frames) {
		t.Fatalf("got %d packets, want %d", len(pkts), len(frames))
	}

	for i, pkt := range pkts {
		if pkt.SSRC != 1234 || pkt.PayloadType != PayloadType {
			t.Errorf("packet %d header = %+v", i, pkt.Header)
		}
		if want := pkts[0].SequenceNumber + uint16(i); pkt.SequenceNumber != want {
			t.Errorf("packet %d seq = %d, want %d", i, pkt.SequenceNumber, want)
		}
		if want := pkts[0].Timestamp + uint32(i*FrameSamples); pkt.Timestamp != want {
			t.Errorf("packet %d timestamp = %d, want %d", i, pkt.Timestamp, want)
		}
		if pkt.Marker != (i == 0) {
			t.Errorf("packet %d marker = %v", i, pkt.Marker)
		}
	}

	t.Run("continues across calls", func(t *testing.T) {
		next := p.Packetize(frames[:1])
		if next[0].SequenceNumber != pkts[3].SequenceNumber+1 {
			t.Errorf("seq = %d, want %d", next[0].SequenceNumber, pkts[3].SequenceNumber+1)
		}
		if next[0].Marker {
			t.Error("marker set without a new spurt")
		}
		p.StartSpurt()
		if !p.Packetize(frames[:1])[0].Marker {
			t.Error("marker not set after StartSpurt")
		}
	})

	t.Run("random ssrc", func(t *testing.T) {
		if NewPacketizer(0).SSRC() == 0 {
			t.Error("expected a non-zero ssrc")
		}
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := encodeTest(t)
	if len(frames) != testFrames {
		t.Fatalf("got %d frames, want %d", len(frames), testFrames)
	}

	pkts := NewPacketizer(0).Packetize(frames)

	t.Run("in order", func(t *testing.T) {
		d, err := NewDepacketizer(1)
		if err != nil {
			t.Fatal(err)
		}
		for _, pkt := range pkts {
			raw, err := pkt.Marshal()
			if err != nil {
				t.Fatal(err)
			}
			if err := d.PushRaw(raw); err != nil {
				t.Fatal(err)
			}
		}
		if got, want := d.Duration(), testFrames*FrameDuration; got != want {
			t.Errorf("duration = %v, want %v", got, want)
		}
		buf := d.Buffer()
		if buf.SampleRate != SampleRate || buf.Channels != 1 {
			t.Errorf("buffer format = %d Hz x %d", buf.SampleRate, buf.Channels)
		}
		if audioio.IsSilence(buf, 0.01) {
			t.Error("decoded tone should not be silent")
		}
	})

	t.Run("gap is concealed", func(t *testing.T) {
		d, err := NewDepacketizer(1)
		if err != nil {
			t.Fatal(err)
		}
		for i, pkt := range pkts {
			if i == 5 {
				continue
			}
			if err := d.Push(pkt); err != nil {
				t.Fatal(err)
			}
		}
		st := d.Stats()
		if st.Lost != 1 || st.Packets != testFrames-1 {
			t.Errorf("stats = %+v", st)
		}
		if got, want := d.Duration(), testFrames*FrameDuration; got != want {
			t.Errorf("duration = %v, want %v", got, want)
		}
	})

	t.Run("late packets dropped", func(t *testing.T) {
		d, err := NewDepacketizer(1)
		if err != nil {
			t.Fatal(err)
		}
		for _, i := range []int{0, 1, 2, 1} {
			if err := d.Push(pkts[i]); err != nil {
				t.Fatal(err)
			}
		}
		if st := d.Stats(); st.Late != 1 || st.Packets != 3 {
			t.Errorf("stats = %+v", st)
		}
	})

	t.Run("malformed datagram", func(t *testing.T) {
		d, err := NewDepacketizer(1)
		if err != nil {
			t.Fatal(err)
		}
		if err := d.PushRaw([]byte{0x80}); err == nil {
			t.Error("expected unmarshal error")
		}
		if d.Stats().Malformed != 1 {
			t.Errorf("stats = %+v", d.Stats())
		}
	})
}

func TestEncoder_Errors(t *testing.T) {
	if _, err := NewEncoder(3, 0); err == nil {
		t.Error("expected error for 3 channels")
	}

	enc, err := NewEncoder(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	frames, err := enc.Encode(audioio.Buffer{})
	if err != nil || frames != nil {
		t.Errorf("empty buffer = %v, %v", frames, err)
	}
	enc.Close()
	if _, err := enc.Encode(testSegment().Audio); err != ErrEncoderClosed {
		t.Errorf("expected ErrEncoderClosed, got %v", err)
	}
}

func TestUDPSink(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	sink, err := DialUDP(ln.LocalAddr().String(), SinkConfig{Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	if err := sink.WriteSegment(context.Background(), testSegment()); err != nil {
		t.Fatal(err)
	}
	if st := sink.Stats(); st.Segments != 1 || st.Packets != testFrames {
		t.Errorf("stats = %+v", st)
	}

	d, err := NewDepacketizer(1)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf, err := d.Receive(ctx, ln, 200*time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := buf.Duration(), testFrames*FrameDuration; got != want {
		t.Errorf("received %v, want %v", got, want)
	}
}

type recordingWriter struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (w *recordingWriter) WriteSample(s media.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
	return nil
}

func TestTrackSink(t *testing.T) {
	t.Run("writes one sample per frame", func(t *testing.T) {
		w := &recordingWriter{}
		sink, err := NewTrackSink(w, SinkConfig{Channels: 1})
		if err != nil {
			t.Fatal(err)
		}
		if err := sink.WriteSegment(context.Background(), testSegment()); err != nil {
			t.Fatal(err)
		}
		if len(w.samples) != testFrames {
			t.Fatalf("got %d samples, want %d", len(w.samples), testFrames)
		}
		for i, s := range w.samples {
			if s.Duration != FrameDuration || len(s.Data) == 0 {
				t.Errorf("sample %d = %d bytes, %v", i, len(s.Data), s.Duration)
			}
		}
	})

	t.Run("paced", func(t *testing.T) {
		sink, err := NewTrackSink(&recordingWriter{}, SinkConfig{Channels: 1, Pace: true})
		if err != nil {
			t.Fatal(err)
		}
		seg := voice.Segment{Audio: audioio.Sine(440, 0.5, 16000, 100*time.Millisecond)}
		start := time.Now()
		if err := sink.WriteSegment(context.Background(), seg); err != nil {
			t.Fatal(err)
		}
		if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
			t.Errorf("5 paced frames took %v", elapsed)
		}
	})

	t.Run("paced write honours cancellation", func(t *testing.T) {
		sink, err := NewTrackSink(&recordingWriter{}, SinkConfig{Channels: 1, Pace: true})
		if err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		seg := voice.Segment{Audio: audioio.Sine(440, 0.5, 16000, time.Second)}
		if err := sink.WriteSegment(ctx, seg); err == nil {
			t.Error("expected context error")
		}
	})

	t.Run("webrtc track", func(t *testing.T) {
		track, err := NewTrack("audio", "voicestream")
		if err != nil {
			t.Fatal(err)
		}
		sink, err := NewTrackSink(track, SinkConfig{Channels: 1})
		if err != nil {
			t.Fatal(err)
		}
		// An unbound track accepts and discards samples.
		if err := sink.WriteSegment(context.Background(), testSegment()); err != nil {
			t.Fatal(err)
		}
	})
}
