package audioio_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
)

func TestNormalize(t *testing.T) {
	t.Run("stereo 48k to mono 16k", func(t *testing.T) {
		// Left +0.5, right -0.5 averages to zero.
		frames := 4800
		samples := make([]int16, frames*2)
		for i := 0; i < frames; i++ {
			samples[i*2] = 16384
			samples[i*2+1] = -16384
		}
		raw := audioio.FromSamples(samples, 48000, 2)

		out, err := audioio.Normalize(raw, 16000, 1)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if !out.IsCanonical() {
			t.Errorf("output not canonical: %+v", out)
		}
		if out.Frames() != 1600 {
			t.Errorf("Frames() = %d, want 1600", out.Frames())
		}
		for i, s := range out.Samples() {
			if s != 0 {
				t.Fatalf("sample %d = %d, want 0", i, s)
			}
		}
	})

	t.Run("8-bit unsigned", func(t *testing.T) {
		raw := audioio.Buffer{Data: []byte{128, 255, 0, 128}, SampleRate: 16000, Channels: 1, BitDepth: 8}
		out, err := audioio.Normalize(raw, 16000, 1)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		got := out.Samples()
		if got[0] != 0 || got[1] <= 32000 || got[2] != -32768 || got[3] != 0 {
			t.Errorf("samples = %v", got)
		}
	})

	t.Run("24-bit signed", func(t *testing.T) {
		// -1 in 24-bit two's complement is 0xFFFFFF.
		raw := audioio.Buffer{Data: []byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x40}, SampleRate: 16000, Channels: 1, BitDepth: 24}
		out, err := audioio.Normalize(raw, 16000, 1)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		got := out.Samples()
		if got[0] != 0 || got[1] != 16384 {
			t.Errorf("samples = %v, want [0 16384]", got)
		}
	})

	t.Run("stereo target duplicates", func(t *testing.T) {
		raw := audioio.FromSamples([]int16{100, 200}, 16000, 1)
		out, err := audioio.Normalize(raw, 16000, 2)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		want := []int16{100, 100, 200, 200}
		got := out.Samples()
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
			}
		}
	})

	t.Run("does not alias input", func(t *testing.T) {
		raw := audioio.FromSamples([]int16{1, 2, 3}, 16000, 1)
		out, _ := audioio.Normalize(raw, 16000, 1)
		out.Data[0] = 0x7F
		if raw.Data[0] != 1 {
			t.Error("Normalize() output shares memory with input")
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		tests := []audioio.Buffer{
			{Data: []byte{0, 0}, SampleRate: 16000, Channels: 1, BitDepth: 12},
			{Data: []byte{0, 0}, SampleRate: 16000, Channels: 0, BitDepth: 16},
			{Data: []byte{0, 0}, SampleRate: 16000, Channels: 9, BitDepth: 16},
		}
		for _, raw := range tests {
			if _, err := audioio.Normalize(raw, 16000, 1); !errors.Is(err, audioio.ErrUnsupportedFormat) {
				t.Errorf("Normalize(%d-bit, %dch) error = %v, want ErrUnsupportedFormat", raw.BitDepth, raw.Channels, err)
			}
		}
	})
}

func TestIsSilence(t *testing.T) {
	tests := []struct {
		name string
		buf  audioio.Buffer
		want bool
	}{
		{"all zeros", audioio.Silence(16000, time.Second), true},
		{"empty", audioio.Buffer{SampleRate: 16000, Channels: 1, BitDepth: 16}, true},
		{"full scale sine", audioio.Sine(440, 1.0, 16000, time.Second), false},
		{"whisper quiet", audioio.Sine(440, 0.005, 16000, time.Second), true},
		{"speech level", audioio.Sine(300, 0.1, 16000, time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audioio.IsSilence(tt.buf, audioio.DefaultSilenceThreshold); got != tt.want {
				t.Errorf("IsSilence() = %v (rms %.4f), want %v", got, audioio.RMS(tt.buf), tt.want)
			}
		})
	}
}

func TestRMS_FullScaleSine(t *testing.T) {
	rms := audioio.RMS(audioio.Sine(1000, 1.0, 16000, time.Second))
	// A full-scale sine has RMS 1/sqrt(2).
	if rms < 0.70 || rms > 0.71 {
		t.Errorf("RMS = %f, want ~0.707", rms)
	}
}

func TestNormalizer_Defaults(t *testing.T) {
	n := audioio.NewNormalizer(audioio.NormalizerConfig{})
	cfg := n.Config()
	if cfg.TargetSampleRate != 16000 || cfg.TargetChannels != 1 || cfg.SilenceThreshold != 0.01 {
		t.Errorf("Config() = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestWAV(t *testing.T) {
	t.Run("encode then decode", func(t *testing.T) {
		in := audioio.Sine(440, 0.5, 16000, 50*time.Millisecond)
		out, err := audioio.DecodeWAVBytes(audioio.EncodeWAV(in))
		if err != nil {
			t.Fatalf("DecodeWAV() error = %v", err)
		}
		if out.SampleRate != 16000 || out.Channels != 1 || out.BitDepth != 16 {
			t.Errorf("format = %+v", out)
		}
		if !bytes.Equal(out.Data, in.Data) {
			t.Error("data mismatch")
		}
	})

	t.Run("skips unknown chunks", func(t *testing.T) {
		wav := audioio.EncodeWAV(audioio.Silence(8000, 10*time.Millisecond))
		// Splice a LIST chunk between fmt and data.
		list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
		spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)
		out, err := audioio.DecodeWAVBytes(spliced)
		if err != nil {
			t.Fatalf("DecodeWAV() error = %v", err)
		}
		if out.Duration() != 10*time.Millisecond {
			t.Errorf("Duration() = %v", out.Duration())
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if _, err := audioio.DecodeWAVBytes([]byte("not a wav file at all")); !errors.Is(err, audioio.ErrInvalidWAV) {
			t.Errorf("error = %v, want ErrInvalidWAV", err)
		}
	})
}

func TestConcat(t *testing.T) {
	a := audioio.Silence(16000, 10*time.Millisecond)
	b := audioio.Silence(16000, 20*time.Millisecond)
	out, err := audioio.Concat(a, b)
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if out.Duration() != 30*time.Millisecond {
		t.Errorf("Duration() = %v", out.Duration())
	}
	if _, err := audioio.Concat(a, audioio.Silence(24000, time.Millisecond)); err == nil {
		t.Error("Concat() of mismatched rates should fail")
	}
}
