package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/inference"
	"github.com/teslashibe/go-voicestream/pkg/metrics"
	"github.com/teslashibe/go-voicestream/pkg/stt"
	"github.com/teslashibe/go-voicestream/pkg/tts"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T, opts ...Option) (*Server, *voice.Pipeline) {
	t.Helper()
	gen := inference.NewMock("Hi there. How are you?")
	gen.TokenDelay = 0

	p, err := voice.New(voice.DefaultConfig(), voice.Providers{
		Transcriber: stt.NewMock("hello"),
		Generator:   gen,
		Synthesizer: &tts.Mock{SynthesizeFunc: tts.SilenceFunc(0, 100*time.Millisecond)},
	}, voice.WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("voice.New() error: %v", err)
	}

	s := NewServer(p, DefaultConfig(), append([]Option{WithLogger(quietLogger)}, opts...)...)
	t.Cleanup(func() { s.Shutdown() })
	return s, p
}

func do(t *testing.T, s *Server, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func textTurn(text string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/turns", strings.NewReader(`{"text":"`+text+`"}`))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestTextTurn(t *testing.T) {
	s, p := newTestServer(t)

	resp, body := do(t, s, textTurn("Say hi"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var tr TurnResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		t.Fatal(err)
	}
	if tr.Outcome != "complete" {
		t.Errorf("outcome = %q", tr.Outcome)
	}
	want := []string{"Hi there.", "How are you?"}
	if len(tr.Sentences) != len(want) {
		t.Fatalf("sentences = %v, want %v", tr.Sentences, want)
	}
	for i := range want {
		if tr.Sentences[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, tr.Sentences[i], want[i])
		}
	}
	if tr.AudioMS != 200 {
		t.Errorf("audio_ms = %d, want 200", tr.AudioMS)
	}
	if _, ok := tr.Breakdown[events.StageTurn]; !ok {
		t.Errorf("breakdown missing %s: %v", events.StageTurn, tr.Breakdown)
	}
	if tr.TurnID == "" || tr.Error != nil {
		t.Errorf("unexpected response %+v", tr)
	}
	if got := len(p.History()); got != 2 {
		t.Errorf("history = %d turns, want 2", got)
	}
}

func TestTextTurn_BadInput(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"empty text", textTurn("   "), http.StatusBadRequest},
		{"malformed body", httptest.NewRequest(http.MethodPost, "/api/turns", strings.NewReader("{")), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Header.Set("Content-Type", "application/json")
			resp, body := do(t, s, tt.req)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestAudioTurn(t *testing.T) {
	s, _ := newTestServer(t)
	wav := audioio.EncodeWAV(audioio.Sine(440, 0.5, 16000, 300*time.Millisecond))

	t.Run("json summary", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/turns/audio", bytes.NewReader(wav))
		resp, body := do(t, s, req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
		var tr TurnResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			t.Fatal(err)
		}
		if tr.Transcript != "hello" {
			t.Errorf("transcript = %q, want hello", tr.Transcript)
		}
	})

	t.Run("wav reply", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/turns/audio?format=wav", bytes.NewReader(wav))
		resp, body := do(t, s, req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("content type = %q", ct)
		}
		if resp.Header.Get("X-Turn-ID") == "" {
			t.Error("missing X-Turn-ID")
		}
		buf, err := audioio.DecodeWAVBytes(body)
		if err != nil {
			t.Fatal(err)
		}
		if buf.Duration() != 200*time.Millisecond {
			t.Errorf("reply duration = %v, want 200ms", buf.Duration())
		}
	})

	t.Run("silence", func(t *testing.T) {
		silent := audioio.EncodeWAV(audioio.Silence(16000, 300*time.Millisecond))
		req := httptest.NewRequest(http.MethodPost, "/api/turns/audio", bytes.NewReader(silent))
		resp, body := do(t, s, req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var tr TurnResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			t.Fatal(err)
		}
		if tr.Outcome != "silence" || len(tr.Sentences) != 0 {
			t.Errorf("unexpected response %+v", tr)
		}
	})

	t.Run("invalid wav", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/turns/audio", strings.NewReader("not a wav"))
		resp, _ := do(t, s, req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestCancelTurn_Idle(t *testing.T) {
	s, _ := newTestServer(t)
	resp, _ := do(t, s, httptest.NewRequest(http.MethodDelete, "/api/turns/current", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEventsAndState(t *testing.T) {
	s, _ := newTestServer(t)
	resp, body := do(t, s, textTurn("Say hi"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("turn failed: %s", body)
	}
	var tr TurnResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		t.Fatal(err)
	}

	t.Run("state", func(t *testing.T) {
		_, body := do(t, s, httptest.NewRequest(http.MethodGet, "/api/state", nil))
		var st StateResponse
		if err := json.Unmarshal(body, &st); err != nil {
			t.Fatal(err)
		}
		if st.State != "idle" || st.LastTurnID != tr.TurnID || st.History != 2 {
			t.Errorf("state = %+v", st)
		}
		if st.Latency.Turns != 1 {
			t.Errorf("latency turns = %d, want 1", st.Latency.Turns)
		}
		for _, m := range []map[string]int64{st.Latency.Last, st.Latency.Average} {
			if _, ok := m["total"]; !ok {
				t.Errorf("latency missing total: %+v", st.Latency)
			}
		}
	})

	t.Run("events by turn and type", func(t *testing.T) {
		_, body := do(t, s, httptest.NewRequest(http.MethodGet, "/api/events?turn="+tr.TurnID+"&type=sentence_ready", nil))
		var evs []map[string]any
		if err := json.Unmarshal(body, &evs); err != nil {
			t.Fatalf("decode: %v (%s)", err, body)
		}
		if len(evs) != 2 {
			t.Errorf("got %d sentence events, want 2", len(evs))
		}
	})

	t.Run("msgpack trace", func(t *testing.T) {
		resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/api/events?format=msgpack", nil))
		if ct := resp.Header.Get("Content-Type"); ct != "application/msgpack" {
			t.Errorf("content type = %q", ct)
		}
		evs, err := events.ReadTrace(bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		if len(evs) == 0 || evs[len(evs)-1].Type() != events.TypeTurnComplete {
			t.Errorf("trace should end with turn_complete, got %d events", len(evs))
		}
	})

	t.Run("clear history", func(t *testing.T) {
		resp, _ := do(t, s, httptest.NewRequest(http.MethodDelete, "/api/history", nil))
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("status = %d, want 204", resp.StatusCode)
		}
		_, body := do(t, s, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		if strings.TrimSpace(string(body)) != "[]" {
			t.Errorf("history = %s, want []", body)
		}
	})
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s, p := newTestServer(t, WithMetrics(m, reg))
	p.Bus().Subscribe(m)

	do(t, s, textTurn("Say hi"))

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{
		`voicestream_turns_total{outcome="complete"} 1`,
		`voicestream_http_requests_total{method="POST",route="/api/turns",status_code="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(t)
	resp, _ := do(t, s, httptest.NewRequest(http.MethodGet, "/ws/events", nil))
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}
