package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-voicestream/internal/config"
	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSayAndReplay(t *testing.T) {
	t.Setenv(config.EnvTestMode, "true")
	dir := t.TempDir()
	wav := filepath.Join(dir, "out", "reply.wav")
	trace := filepath.Join(dir, "turn.msgpack")

	out, err := run(t, "say", "--timeout", "10s", "-o", wav, "--trace", trace, "hello there")
	if err != nil {
		t.Fatalf("say: %v\n%s", err, out)
	}
	if !strings.Contains(out, "complete") {
		t.Errorf("output missing outcome:\n%s", out)
	}
	if !strings.Contains(out, events.StageTurn) {
		t.Errorf("output missing latency breakdown:\n%s", out)
	}

	data, err := os.ReadFile(wav)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := audioio.DecodeWAVBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Duration() <= 0 {
		t.Error("reply audio is empty")
	}

	t.Run("replay", func(t *testing.T) {
		out, err := run(t, "replay", trace)
		if err != nil {
			t.Fatalf("replay: %v\n%s", err, out)
		}
		for _, want := range []string{string(events.TypeTurnComplete), string(events.TypeSentenceReady), events.StageFirstToken} {
			if !strings.Contains(out, want) {
				t.Errorf("replay output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("replay unknown turn", func(t *testing.T) {
		defer func() { replayTurn = "" }()
		if _, err := run(t, "replay", "--turn", "nope", trace); err == nil {
			t.Error("expected error for unknown turn")
		}
	})
}

func TestListen(t *testing.T) {
	t.Setenv(config.EnvTestMode, "true")
	dir := t.TempDir()
	in := filepath.Join(dir, "question.wav")
	if err := os.WriteFile(in, audioio.EncodeWAV(audioio.Sine(440, 0.5, 16000, 500*time.Millisecond)), 0o644); err != nil {
		t.Fatal(err)
	}
	defer func() { wavFile = "" }()

	out, err := run(t, "listen", "--timeout", "10s", "-o", "", "--trace", "", "--wav", in)
	if err != nil {
		t.Fatalf("listen: %v\n%s", err, out)
	}
	if !strings.Contains(out, "heard") {
		t.Errorf("output missing transcript:\n%s", out)
	}

	t.Run("requires one source", func(t *testing.T) {
		if _, err := run(t, "listen", "--wav", "", "--rtp-listen", ""); err == nil {
			t.Error("expected error without an audio source")
		}
	})
}

func TestPresets(t *testing.T) {
	out, err := run(t, "presets")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range config.Presets() {
		if !strings.Contains(out, name) {
			t.Errorf("presets output missing %q", name)
		}
	}
}

func TestScenarios(t *testing.T) {
	t.Setenv(config.EnvTestMode, "true")

	t.Run("standard set passes on mocks", func(t *testing.T) {
		out, err := run(t, "scenarios", "--file", "", "--set", "standard")
		if err != nil {
			t.Fatalf("scenarios: %v\n%s", err, out)
		}
		if !strings.Contains(out, "Total: 4 | Passed: 4 | Failed: 0") {
			t.Errorf("output missing summary:\n%s", out)
		}
		if strings.Contains(out, "FAIL") {
			t.Errorf("unexpected failure:\n%s", out)
		}
	})

	t.Run("failing file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "scenarios.yaml")
		yaml := "- name: greeting\n  input: Hello\n  expect_contains: hello\n" +
			"- name: wrong answer\n  input: What is 2 plus 2?\n  expect_contains: seventeen\n"
		if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
			t.Fatal(err)
		}
		out, err := run(t, "scenarios", "--file", file)
		if err == nil || !strings.Contains(err.Error(), "1 of 2 scenarios failed") {
			t.Fatalf("error = %v, want 1 of 2 failed\n%s", err, out)
		}
		for _, want := range []string{"PASS", "FAIL", "wrong answer", `does not contain "seventeen"`, "reply: 2 plus 2 is 4."} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("unknown set", func(t *testing.T) {
		if _, err := run(t, "scenarios", "--file", "", "--set", "nope"); err == nil {
			t.Error("want error for unknown set")
		}
	})
}

func TestRenderTurn(t *testing.T) {
	res := &voice.Result{
		TurnID:  "turn-1",
		Outcome: voice.OutcomeFailed,
		Segments: []voice.Segment{
			{Ordinal: 0, Text: "First sentence.", Audio: audioio.Silence(16000, 250*time.Millisecond)},
		},
		Truncated: true,
		Err:       errors.New("synthesis failed"),
	}
	out := renderTurn(res, map[string]time.Duration{
		events.StageFirstToken: 120 * time.Millisecond,
		events.StageTurn:       900 * time.Millisecond,
	})

	for _, want := range []string{"turn-1", "failed", "First sentence.", "250ms", "truncated", "synthesis failed", "120ms", "900ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, events.StageTranscription) {
		t.Errorf("absent stages should not be rendered:\n%s", out)
	}
}

func TestTee(t *testing.T) {
	if tee() != nil {
		t.Error("tee() with no sinks should be nil")
	}

	var got []string
	record := func(name string, err error) voice.Sink {
		return voice.SinkFunc(func(ctx context.Context, seg voice.Segment) error {
			got = append(got, name)
			return err
		})
	}
	boom := errors.New("boom")
	sink := tee(record("rtp", boom), record("player", nil))
	err := sink.WriteSegment(context.Background(), voice.Segment{})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
	if strings.Join(got, ",") != "rtp,player" {
		t.Errorf("sinks called %v, want both in order", got)
	}
}
