package playback

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-voicestream/internal/log"
	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// recorder writes whatever it is played into dir/out.<rate>.<channels>.
func recorder(dir string) Config {
	return Config{
		Command:      "sh",
		Args:         []string{"-c", "cat > " + filepath.Join(dir, "out.{rate}.{channels}")},
		FlushTimeout: 5 * time.Second,
	}
}

func segment(ordinal int, buf audioio.Buffer) voice.Segment {
	return voice.Segment{Ordinal: ordinal, Audio: buf}
}

func TestPlayer_StreamsSegments(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	p := New(recorder(dir), log.Discard())

	var starts, ends int
	p.OnPlaybackStart = func() { starts++ }
	p.OnPlaybackEnd = func() { ends++ }

	ctx := context.Background()
	a := audioio.Sine(440, 0.5, 16000, 100*time.Millisecond)
	b := audioio.Sine(880, 0.5, 16000, 50*time.Millisecond)
	for i, buf := range []audioio.Buffer{a, b} {
		if err := p.WriteSegment(ctx, segment(i, buf)); err != nil {
			t.Fatalf("WriteSegment(%d): %v", i, err)
		}
	}
	if !p.IsPlaying() {
		t.Error("expected a running player")
	}
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if p.IsPlaying() {
		t.Error("player should stop after Flush")
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.16000.1"))
	if err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte{}, a.Data...), b.Data...)
	if !bytes.Equal(got, want) {
		t.Errorf("played %d bytes, want %d", len(got), len(want))
	}
	if starts != 1 || ends != 1 {
		t.Errorf("callbacks: %d starts, %d ends", starts, ends)
	}
}

func TestPlayer_FormatChangeRestarts(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	p := New(recorder(dir), log.Discard())
	ctx := context.Background()

	if err := p.WriteSegment(ctx, segment(0, audioio.Silence(16000, 20*time.Millisecond))); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteSegment(ctx, segment(1, audioio.Silence(24000, 20*time.Millisecond))); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"out.16000.1", "out.24000.1"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestPlayer_Cancel(t *testing.T) {
	requireShell(t)
	p := New(Config{Command: "sh", Args: []string{"-c", "exec sleep 10"}}, log.Discard())

	if err := p.WriteSegment(context.Background(), segment(0, audioio.Silence(16000, 20*time.Millisecond))); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	p.Cancel()
	if time.Since(start) > 2*time.Second {
		t.Error("Cancel should not wait for playback")
	}
	if p.IsPlaying() {
		t.Error("player should stop after Cancel")
	}
}

func TestPlayer_Errors(t *testing.T) {
	t.Run("missing command", func(t *testing.T) {
		p := New(Config{Command: "definitely-not-a-player"}, log.Discard())
		err := p.WriteSegment(context.Background(), segment(0, audioio.Silence(16000, 20*time.Millisecond)))
		if err == nil {
			t.Error("expected start error")
		}
	})

	t.Run("empty segment is ignored", func(t *testing.T) {
		p := New(Config{Command: "definitely-not-a-player"}, log.Discard())
		if err := p.WriteSegment(context.Background(), segment(0, audioio.Buffer{})); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unsupported bit depth", func(t *testing.T) {
		p := New(Config{Command: "definitely-not-a-player"}, log.Discard())
		buf := audioio.Buffer{Data: []byte{0, 0, 0}, SampleRate: 16000, Channels: 1, BitDepth: 24}
		if err := p.WriteSegment(context.Background(), segment(0, buf)); err == nil {
			t.Error("expected bit depth error")
		}
	})

	t.Run("flush without player", func(t *testing.T) {
		p := New(Config{Command: "definitely-not-a-player"}, log.Discard())
		if err := p.Flush(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
