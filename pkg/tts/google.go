package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

const providerGoogle = "google"

// DefaultGoogleVoice is a neural English voice.
const DefaultGoogleVoice = "en-US-Neural2-F"

// Google synthesizes speech with Cloud Text-to-Speech.
//
// Credentials come from the API key when one is configured, otherwise from
// Application Default Credentials.
type Google struct {
	config *Config
	svc    *texttospeech.Service
	logger *slog.Logger
}

// NewGoogle creates a Cloud Text-to-Speech synthesizer.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.VoiceID = DefaultGoogleVoice
	cfg.Apply(opts...)

	var clientOpts []option.ClientOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	} else {
		ts, err := google.DefaultTokenSource(ctx, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, resilience.WithKind(fmt.Errorf("tts [google]: credentials: %w", err), resilience.KindPermanent)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	return &Google{
		config: cfg,
		svc:    svc,
		logger: cfg.Logger.With("component", "tts.google"),
	}, nil
}

// Synthesize requests LINEAR16 audio at the configured output rate.
func (g *Google) Synthesize(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.config.LanguageCode,
			Name:         g.config.VoiceID,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: int64(g.config.OutputFormat.SampleRate()),
			SpeakingRate:    g.config.Speed,
		},
	}

	resp, err := g.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return nil, googleError(err)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	if len(raw) == 0 {
		return nil, WrapError(providerGoogle, ErrEmptyAudio)
	}

	// LINEAR16 responses carry a WAV header.
	audio, err := audioio.DecodeWAVBytes(raw)
	if err != nil {
		audio = audioio.NewPCM16(raw, g.config.OutputFormat.SampleRate(), 1)
	}

	result := &Result{
		Audio:     audio,
		CharCount: len(text),
		Latency:   time.Since(start),
	}
	g.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio.Data),
		"latency_ms", result.Latency.Milliseconds(),
		"voice", g.config.VoiceID,
	)
	return result, nil
}

// Health lists voices for the configured language.
func (g *Google) Health(ctx context.Context) error {
	if _, err := g.svc.Voices.List().LanguageCode(g.config.LanguageCode).Context(ctx).Do(); err != nil {
		return googleError(err)
	}
	return nil
}

// Close is a no-op.
func (g *Google) Close() error {
	return nil
}

func googleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{StatusCode: gerr.Code, Message: gerr.Message, Provider: providerGoogle}
	}
	return WrapError(providerGoogle, err)
}

var _ Synthesizer = (*Google)(nil)
