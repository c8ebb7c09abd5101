package stt

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-voicestream/internal/httpc"
	"github.com/teslashibe/go-voicestream/pkg/audioio"
)

const providerOpenAI = "openai"

// OpenAI transcribes with the Whisper transcription endpoint.
// Audio is uploaded as a 16 kHz mono WAV file.
type OpenAI struct {
	config *Config
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates a Whisper transcriber.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Model = openai.Whisper1
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	oc.HTTPClient = cfg.HTTPClient
	if oc.HTTPClient == nil {
		oc.HTTPClient = httpc.NewClient(cfg.Timeout)
	}

	return &OpenAI{
		config: cfg,
		client: openai.NewClientWithConfig(oc),
		logger: cfg.Logger.With("component", "stt.openai"),
	}, nil
}

// Transcribe uploads buf and returns the recognised text.
func (o *OpenAI) Transcribe(ctx context.Context, buf audioio.Buffer) (*Result, error) {
	if err := Validate(buf); err != nil {
		return nil, err
	}
	start := time.Now()

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.config.Model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(audioio.EncodeWAV(buf)),
		Prompt:   o.config.Prompt,
		Language: o.config.Language,
	})
	if err != nil {
		return nil, openAIError(err)
	}

	result := &Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: buf.Duration(),
		Latency:  time.Since(start),
	}
	if resp.Duration > 0 {
		result.Duration = time.Duration(resp.Duration * float64(time.Second))
	}

	o.logger.Debug("transcribed audio",
		"audio_ms", buf.Duration().Milliseconds(),
		"latency_ms", result.Latency.Milliseconds(),
		"chars", len(result.Text),
	)
	return result, nil
}

// Health lists models to confirm the key is accepted.
func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return openAIError(err)
	}
	return nil
}

// Close is a no-op.
func (o *OpenAI) Close() error {
	return nil
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Provider: providerOpenAI}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.Error()
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: msg, Provider: providerOpenAI}
	}
	return WrapError(providerOpenAI, err)
}

var _ Transcriber = (*OpenAI)(nil)
