// Package providers builds the stage backends named in a config.Config.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-voicestream/internal/config"
	"github.com/teslashibe/go-voicestream/pkg/inference"
	"github.com/teslashibe/go-voicestream/pkg/stt"
	"github.com/teslashibe/go-voicestream/pkg/tts"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

// Build creates the transcriber, generator and synthesizer for cfg. A stage
// that lists several providers becomes a fallback chain in list order.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (voice.Providers, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out voice.Providers

	tr, err := buildTranscriber(ctx, cfg, logger)
	if err != nil {
		return out, err
	}
	gen, err := buildGenerator(ctx, cfg, logger)
	if err != nil {
		tr.Close()
		return out, err
	}
	syn, err := buildSynthesizer(ctx, cfg, logger)
	if err != nil {
		tr.Close()
		gen.Close()
		return out, err
	}

	logger.Info("providers ready",
		"preset", cfg.Preset,
		"stt", cfg.STT.Providers,
		"llm", cfg.LLM.Providers,
		"tts", cfg.TTS.Providers,
	)
	return voice.Providers{Transcriber: tr, Generator: gen, Synthesizer: syn}, nil
}

// NewPipeline validates cfg, builds its providers and wraps them in a
// pipeline.
func NewPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...voice.Option) (*voice.Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ps, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		opts = append([]voice.Option{voice.WithLogger(logger)}, opts...)
	}
	p, err := voice.New(cfg.Voice, ps, opts...)
	if err != nil {
		closeAll(ps)
		return nil, err
	}
	return p, nil
}

func buildTranscriber(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stt.Transcriber, error) {
	s := cfg.STT
	var built []stt.Transcriber
	for _, name := range s.Providers {
		opts := []stt.Option{stt.WithLogger(logger)}
		if s.Model != "" {
			opts = append(opts, stt.WithModel(s.Model))
		}
		if s.Language != "" {
			opts = append(opts, stt.WithLanguage(s.Language))
		}
		if s.BaseURL != "" {
			opts = append(opts, stt.WithBaseURL(s.BaseURL))
		}

		var (
			t   stt.Transcriber
			err error
		)
		switch name {
		case config.ProviderMock:
			t = stt.NewMock()
		case config.ProviderOpenAI:
			t, err = stt.NewOpenAI(append(opts, stt.WithAPIKey(cfg.Keys.OpenAI))...)
		case config.ProviderGoogle:
			t, err = stt.NewGoogle(ctx, append(opts, stt.WithAPIKey(cfg.Keys.Google))...)
		default:
			err = fmt.Errorf("unsupported provider %q", name)
		}
		if err != nil {
			closeEach(built)
			return nil, fmt.Errorf("stt: %s: %w", name, err)
		}
		built = append(built, t)
	}
	switch len(built) {
	case 0:
		return nil, errors.New("stt: no providers configured")
	case 1:
		return built[0], nil
	}
	return stt.NewChainWithLogger(logger, built...)
}

func buildGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (inference.Generator, error) {
	s := cfg.LLM
	var built []inference.Generator
	for _, name := range s.Providers {
		opts := []inference.Option{inference.WithLogger(logger)}
		if s.Model != "" {
			opts = append(opts, inference.WithModel(s.Model))
		}
		if s.BaseURL != "" {
			opts = append(opts, inference.WithBaseURL(s.BaseURL))
		}

		var (
			g   inference.Generator
			err error
		)
		switch name {
		case config.ProviderMock:
			g = inference.NewMock("")
		case config.ProviderOpenAI:
			g, err = inference.NewClient(append(opts, inference.WithAPIKey(cfg.Keys.OpenAI))...)
		case config.ProviderGemini:
			g, err = inference.NewGemini(ctx, append(opts, inference.WithAPIKey(cfg.Keys.Gemini))...)
		default:
			err = fmt.Errorf("unsupported provider %q", name)
		}
		if err != nil {
			closeEach(built)
			return nil, fmt.Errorf("llm: %s: %w", name, err)
		}
		built = append(built, g)
	}
	switch len(built) {
	case 0:
		return nil, errors.New("llm: no providers configured")
	case 1:
		return built[0], nil
	}
	return inference.NewChainWithLogger(logger, built...)
}

func buildSynthesizer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tts.Synthesizer, error) {
	s := cfg.TTS
	var built []tts.Synthesizer
	for _, name := range s.Providers {
		opts := []tts.Option{tts.WithLogger(logger)}
		if s.Model != "" {
			opts = append(opts, tts.WithModel(s.Model))
		}
		if s.Language != "" {
			opts = append(opts, tts.WithLanguage(s.Language))
		}
		if s.BaseURL != "" {
			opts = append(opts, tts.WithBaseURL(s.BaseURL))
		}

		var (
			syn tts.Synthesizer
			err error
		)
		switch name {
		case config.ProviderMock:
			syn = tts.NewMock()
		case config.ProviderOpenAI:
			if v := otherVoice(cfg); v != "" {
				opts = append(opts, tts.WithVoice(v))
			}
			syn, err = tts.NewOpenAI(append(opts, tts.WithAPIKey(cfg.Keys.OpenAI))...)
		case config.ProviderElevenLabs, config.ProviderElevenLabsWS:
			opts = append(opts, tts.WithAPIKey(cfg.Keys.ElevenLabs), tts.WithVoice(elevenLabsVoice(cfg)))
			if name == config.ProviderElevenLabsWS {
				syn, err = tts.NewElevenLabsWS(opts...)
			} else {
				syn, err = tts.NewElevenLabs(opts...)
			}
		case config.ProviderGoogle:
			if v := otherVoice(cfg); v != "" {
				opts = append(opts, tts.WithVoice(v))
			}
			syn, err = tts.NewGoogle(ctx, append(opts, tts.WithAPIKey(cfg.Keys.Google))...)
		default:
			err = fmt.Errorf("unsupported provider %q", name)
		}
		if err != nil {
			closeEach(built)
			return nil, fmt.Errorf("tts: %s: %w", name, err)
		}
		built = append(built, syn)
	}
	switch len(built) {
	case 0:
		return nil, errors.New("tts: no providers configured")
	case 1:
		return built[0], nil
	}
	return tts.NewChainWithLogger(logger, built...)
}

// elevenLabsVoice prefers the stage voice. In a mixed chain the stage voice
// may belong to another vendor, so the ElevenLabs voice ID from the
// environment wins when both are set and the chain is not led by ElevenLabs.
func elevenLabsVoice(cfg *config.Config) string {
	switch {
	case cfg.TTS.Voice == "":
		return cfg.Keys.ElevenLabsVoiceID
	case cfg.Keys.ElevenLabsVoiceID == "":
		return cfg.TTS.Voice
	}
	if isElevenLabs(cfg.TTS.Primary()) {
		return cfg.TTS.Voice
	}
	return cfg.Keys.ElevenLabsVoiceID
}

// otherVoice is the stage voice for non-ElevenLabs synthesizers. A chain
// led by ElevenLabs keeps its voice ID to itself and the fallbacks use
// their default voices.
func otherVoice(cfg *config.Config) string {
	if isElevenLabs(cfg.TTS.Primary()) {
		return ""
	}
	return cfg.TTS.Voice
}

func isElevenLabs(name string) bool {
	return name == config.ProviderElevenLabs || name == config.ProviderElevenLabsWS
}

type closer interface{ Close() error }

func closeEach[T closer](cs []T) {
	for _, c := range cs {
		c.Close()
	}
}

func closeAll(ps voice.Providers) {
	ps.Transcriber.Close()
	ps.Generator.Close()
	ps.Synthesizer.Close()
}
