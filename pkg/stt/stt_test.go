package stt_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
	"github.com/teslashibe/go-voicestream/pkg/stt"
)

func speech(d time.Duration) audioio.Buffer {
	return audioio.Sine(220, 0.5, audioio.CanonicalSampleRate, d)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		buf  audioio.Buffer
		want error
	}{
		{"canonical", speech(time.Second), nil},
		{"too short", speech(50 * time.Millisecond), stt.ErrAudioTooShort},
		{"wrong rate", audioio.Sine(220, 0.5, 44100, time.Second), stt.ErrUnsupportedFormat},
		{"too long", audioio.Silence(audioio.CanonicalSampleRate, 14*time.Minute), stt.ErrAudioTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := stt.Validate(tt.buf)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if resilience.KindOf(err) != resilience.KindInput {
				t.Errorf("expected input kind, got %s", resilience.KindOf(err))
			}
		})
	}
}

func TestMock(t *testing.T) {
	ctx := context.Background()

	t.Run("Default text", func(t *testing.T) {
		m := stt.NewMock()
		res, err := m.Transcribe(ctx, speech(time.Second))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Text != stt.DefaultMockText {
			t.Errorf("unexpected text %q", res.Text)
		}
		if res.Duration != time.Second {
			t.Errorf("expected 1s, got %v", res.Duration)
		}
	})

	t.Run("Responses cycle", func(t *testing.T) {
		m := stt.NewMock("one", "two")
		var got []string
		for i := 0; i < 3; i++ {
			res, _ := m.Transcribe(ctx, speech(time.Second))
			got = append(got, res.Text)
		}
		if strings.Join(got, ",") != "one,two,one" {
			t.Errorf("unexpected sequence %v", got)
		}
		if m.CallCount() != 3 {
			t.Errorf("expected 3 calls, got %d", m.CallCount())
		}
		m.Reset()
		if res, _ := m.Transcribe(ctx, speech(time.Second)); res.Text != "one" {
			t.Errorf("expected rewind, got %q", res.Text)
		}
	})

	t.Run("Latency honours cancellation", func(t *testing.T) {
		m := stt.NewMock()
		m.Latency = time.Second
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		if _, err := m.Transcribe(cctx, speech(time.Second)); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestOpenAI(t *testing.T) {
	ctx := context.Background()

	t.Run("Uploads WAV and returns text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/audio/transcriptions" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if r.FormValue("model") != "whisper-1" {
				t.Errorf("unexpected model %q", r.FormValue("model"))
			}
			f, hdr, err := r.FormFile("file")
			if err != nil {
				t.Errorf("missing file: %v", err)
			} else {
				defer f.Close()
				if _, err := audioio.DecodeWAV(f); err != nil {
					t.Errorf("upload is not WAV: %v", err)
				}
				if hdr.Filename != "audio.wav" {
					t.Errorf("unexpected filename %q", hdr.Filename)
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"text":" hello world "}`))
		}))
		defer srv.Close()

		tr, err := stt.NewOpenAI(stt.WithAPIKey("sk-test"), stt.WithBaseURL(srv.URL))
		if err != nil {
			t.Fatalf("NewOpenAI: %v", err)
		}
		res, err := tr.Transcribe(ctx, speech(500*time.Millisecond))
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if res.Text != "hello world" {
			t.Errorf("unexpected text %q", res.Text)
		}
	})

	t.Run("Unauthorized is permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
		}))
		defer srv.Close()

		tr, _ := stt.NewOpenAI(stt.WithAPIKey("sk-bad"), stt.WithBaseURL(srv.URL))
		_, err := tr.Transcribe(ctx, speech(500*time.Millisecond))
		if !errors.Is(err, stt.ErrAuth) {
			t.Fatalf("expected ErrAuth, got %v", err)
		}
		if resilience.KindOf(err) != resilience.KindPermanent {
			t.Errorf("expected permanent, got %s", resilience.KindOf(err))
		}
	})

	t.Run("Server error is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
		}))
		defer srv.Close()

		tr, _ := stt.NewOpenAI(stt.WithAPIKey("sk-test"), stt.WithBaseURL(srv.URL))
		_, err := tr.Transcribe(ctx, speech(500*time.Millisecond))
		if resilience.KindOf(err) != resilience.KindTransient {
			t.Errorf("expected transient, got %v", err)
		}
	})

	t.Run("Rejects short audio before calling out", func(t *testing.T) {
		tr, _ := stt.NewOpenAI(stt.WithAPIKey("sk-test"), stt.WithBaseURL("http://127.0.0.1:0"))
		if _, err := tr.Transcribe(ctx, speech(20*time.Millisecond)); !errors.Is(err, stt.ErrAudioTooShort) {
			t.Errorf("expected ErrAudioTooShort, got %v", err)
		}
	})

	t.Run("Requires API key", func(t *testing.T) {
		if _, err := stt.NewOpenAI(); !errors.Is(err, stt.ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	buf := speech(time.Second)

	t.Run("Falls back on transient failure", func(t *testing.T) {
		fallback := stt.NewMock("from fallback")
		chain, _ := stt.NewChain(stt.WithError(stt.ErrServiceUnavailable), fallback)

		res, err := chain.Transcribe(ctx, buf)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Text != "from fallback" {
			t.Errorf("unexpected text %q", res.Text)
		}
	})

	t.Run("Input error stops the chain", func(t *testing.T) {
		next := stt.NewMock()
		chain, _ := stt.NewChain(stt.WithError(stt.ErrAudioTooShort), next)

		if _, err := chain.Transcribe(ctx, buf); !errors.Is(err, stt.ErrAudioTooShort) {
			t.Fatalf("expected ErrAudioTooShort, got %v", err)
		}
		if next.CallCount() != 0 {
			t.Error("expected second provider not to be called")
		}
	})

	t.Run("All fail", func(t *testing.T) {
		chain, _ := stt.NewChain(stt.WithError(errors.New("a")), stt.WithError(errors.New("b")))
		_, err := chain.Transcribe(ctx, buf)
		var chainErr *stt.ChainError
		if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
			t.Fatalf("expected ChainError, got %v", err)
		}
	})

	t.Run("Requires providers", func(t *testing.T) {
		if _, err := stt.NewChain(); err != stt.ErrProviderUnavailable {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})
}
