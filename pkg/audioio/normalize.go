package audioio

import (
	"fmt"
	"math"
)

// DefaultSilenceThreshold is the RMS level, on a [-1, 1] amplitude scale,
// below which a buffer counts as silence.
const DefaultSilenceThreshold = 0.01

// NormalizerConfig configures a Normalizer.
type NormalizerConfig struct {
	TargetSampleRate int     `yaml:"target_sample_rate" json:"target_sample_rate"`
	TargetChannels   int     `yaml:"target_channels" json:"target_channels"`
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`
}

// DefaultNormalizerConfig returns the canonical transcription format and the
// default silence threshold.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		TargetSampleRate: CanonicalSampleRate,
		TargetChannels:   CanonicalChannels,
		SilenceThreshold: DefaultSilenceThreshold,
	}
}

// Validate checks the configuration.
func (c NormalizerConfig) Validate() error {
	if c.TargetSampleRate < 8000 || c.TargetSampleRate > 192000 {
		return fmt.Errorf("target_sample_rate must be 8000-192000, got %d", c.TargetSampleRate)
	}
	if c.TargetChannels < 1 || c.TargetChannels > 2 {
		return fmt.Errorf("target_channels must be 1 or 2, got %d", c.TargetChannels)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold >= 1 {
		return fmt.Errorf("silence_threshold must be in [0, 1), got %v", c.SilenceThreshold)
	}
	return nil
}

// Normalizer converts captured audio into the transcription format and
// classifies silence.
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer creates a normalizer. Zero fields take defaults.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	def := DefaultNormalizerConfig()
	if cfg.TargetSampleRate == 0 {
		cfg.TargetSampleRate = def.TargetSampleRate
	}
	if cfg.TargetChannels == 0 {
		cfg.TargetChannels = def.TargetChannels
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	return &Normalizer{cfg: cfg}
}

// Config returns the effective configuration.
func (n *Normalizer) Config() NormalizerConfig { return n.cfg }

// Normalize converts raw into the configured target format.
func (n *Normalizer) Normalize(raw Buffer) (Buffer, error) {
	return Normalize(raw, n.cfg.TargetSampleRate, n.cfg.TargetChannels)
}

// IsSilence reports whether buf is below the configured threshold.
func (n *Normalizer) IsSilence(buf Buffer) bool {
	return IsSilence(buf, n.cfg.SilenceThreshold)
}

// Normalize downmixes raw to mono by averaging channels, resamples to
// targetRate with linear interpolation, and emits 16-bit PCM with
// targetChannels channels (mono is duplicated for stereo output).
// The result never shares memory with raw.
func Normalize(raw Buffer, targetRate, targetChannels int) (Buffer, error) {
	if err := raw.Validate(); err != nil {
		return Buffer{}, err
	}
	if targetRate <= 0 {
		return Buffer{}, fmt.Errorf("%w: target rate %d", ErrUnsupportedFormat, targetRate)
	}
	if targetChannels < 1 || targetChannels > MaxChannels {
		return Buffer{}, fmt.Errorf("%w: %d target channels", ErrUnsupportedFormat, targetChannels)
	}

	if raw.BitDepth == 16 && raw.Channels <= 2 && targetChannels <= 2 {
		return normalizePCM16(raw, targetRate, targetChannels), nil
	}

	mono := downmix(raw)
	mono = resampleFloat(mono, raw.SampleRate, targetRate)

	out := make([]byte, 0, len(mono)*2*targetChannels)
	for _, v := range mono {
		s := floatToSample(v)
		for c := 0; c < targetChannels; c++ {
			out = append(out, byte(s), byte(s>>8))
		}
	}
	return Buffer{Data: out, SampleRate: targetRate, Channels: targetChannels, BitDepth: 16}, nil
}

// normalizePCM16 is the common capture path: 16-bit mono or stereo in and
// out, converted without a float pass over the interleaved data.
func normalizePCM16(raw Buffer, targetRate, targetChannels int) Buffer {
	samples := BytesToSamples(raw.Data)
	if raw.Channels == 2 {
		samples = StereoToMono(samples)
	}
	samples = Resample(samples, raw.SampleRate, targetRate)
	if targetChannels == 2 {
		samples = MonoToStereo(samples)
	}
	return Buffer{Data: SamplesToBytes(samples), SampleRate: targetRate, Channels: targetChannels, BitDepth: 16}
}

// downmix decodes every frame to a float in [-1, 1] and averages channels.
func downmix(b Buffer) []float64 {
	frames := b.Frames()
	width := b.BytesPerSample()
	out := make([]float64, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		base := f * width * b.Channels
		for c := 0; c < b.Channels; c++ {
			sum += decodeSample(b.Data[base+c*width:], b.BitDepth)
		}
		out[f] = sum / float64(b.Channels)
	}
	return out
}

// decodeSample reads one little-endian sample. 8-bit PCM is unsigned, wider
// depths are signed.
func decodeSample(p []byte, bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return (float64(p[0]) - 128) / 128
	case 16:
		return float64(int16(uint16(p[0])|uint16(p[1])<<8)) / 32768
	case 24:
		v := int32(uint32(p[0])<<8|uint32(p[1])<<16|uint32(p[2])<<24) >> 8
		return float64(v) / 8388608
	case 32:
		v := int32(uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24)
		return float64(v) / 2147483648
	}
	return 0
}

// RMS returns the root-mean-square amplitude of buf on a [0, 1] scale.
// Multi-channel buffers are downmixed first.
func RMS(buf Buffer) float64 {
	if buf.Validate() != nil || buf.Empty() {
		return 0
	}
	samples := downmix(buf)
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// IsSilence reports whether the RMS of buf is below threshold.
// Empty buffers are silent.
func IsSilence(buf Buffer, threshold float64) bool {
	return RMS(buf) < threshold
}
