package stt

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
	speech "google.golang.org/api/speech/v1"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

const providerGoogle = "google"

// Google transcribes with Cloud Speech-to-Text synchronous recognition.
//
// Credentials come from the API key when one is configured, otherwise from
// Application Default Credentials.
type Google struct {
	config *Config
	svc    *speech.Service
	logger *slog.Logger
}

// NewGoogle creates a Cloud Speech-to-Text transcriber.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Language = "en-US"
	cfg.Apply(opts...)

	var clientOpts []option.ClientOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	} else {
		ts, err := google.DefaultTokenSource(ctx, speech.CloudPlatformScope)
		if err != nil {
			return nil, resilience.WithKind(fmt.Errorf("stt [google]: credentials: %w", err), resilience.KindPermanent)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}

	svc, err := speech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	return &Google{
		config: cfg,
		svc:    svc,
		logger: cfg.Logger.With("component", "stt.google"),
	}, nil
}

// Transcribe sends buf inline as LINEAR16 and joins the top alternatives.
func (g *Google) Transcribe(ctx context.Context, buf audioio.Buffer) (*Result, error) {
	if err := Validate(buf); err != nil {
		return nil, err
	}
	start := time.Now()

	req := &speech.RecognizeRequest{
		Config: &speech.RecognitionConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            int64(buf.SampleRate),
			AudioChannelCount:          int64(buf.Channels),
			LanguageCode:               g.config.Language,
			Model:                      g.config.Model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speech.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(buf.Data),
		},
	}

	resp, err := g.svc.Speech.Recognize(req).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return nil, &APIError{StatusCode: gerr.Code, Message: gerr.Message, Provider: providerGoogle}
		}
		return nil, WrapError(providerGoogle, err)
	}

	var parts []string
	lang := ""
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		if lang == "" {
			lang = r.LanguageCode
		}
	}

	result := &Result{
		Text:     strings.Join(parts, " "),
		Language: lang,
		Duration: buf.Duration(),
		Latency:  time.Since(start),
	}
	g.logger.Debug("transcribed audio",
		"audio_ms", buf.Duration().Milliseconds(),
		"latency_ms", result.Latency.Milliseconds(),
		"results", len(resp.Results),
	)
	return result, nil
}

// Health recognises a short silent clip.
func (g *Google) Health(ctx context.Context) error {
	_, err := g.Transcribe(ctx, audioio.Silence(audioio.CanonicalSampleRate, 200*time.Millisecond))
	return err
}

// Close is a no-op.
func (g *Google) Close() error {
	return nil
}

var _ Transcriber = (*Google)(nil)
