package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

const (
	elevenLabsWSBaseURL  = "wss://api.elevenlabs.io/v1"
	providerElevenLabsWS = "elevenlabs-ws"
)

// ElevenLabsWS synthesizes through the stream-input WebSocket. Each call
// opens its own session, so calls for different sentences run in parallel
// without sharing connection state. First audio usually arrives sooner than
// from the REST endpoint.
type ElevenLabsWS struct {
	config  *Config
	logger  *slog.Logger
	baseURL string
	dialer  *websocket.Dialer
}

// NewElevenLabsWS creates a WebSocket-based ElevenLabs synthesizer.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}
	cfg.VoiceID = ResolveElevenLabsVoice(cfg.VoiceID)

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsWSBaseURL
	}

	return &ElevenLabsWS{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.elevenlabs_ws"),
		baseURL: baseURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

type wsAudioMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize streams text over a fresh session and collects the audio.
func (e *ElevenLabsWS) Synthesize(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		e.baseURL, url.PathEscape(e.config.VoiceID),
		url.QueryEscape(e.config.ModelID), url.QueryEscape(string(e.config.OutputFormat)))

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error(), Provider: providerElevenLabsWS}
		}
		return nil, WrapError(providerElevenLabsWS, fmt.Errorf("dial: %w", err))
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	bos := map[string]any{
		"text":           " ",
		"voice_settings": voiceSettingsPayload(e.config.VoiceSettings),
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	msgs := []any{
		bos,
		map[string]any{"text": text + " ", "flush": true},
		map[string]any{"text": ""},
	}
	for _, m := range msgs {
		if err := conn.WriteJSON(m); err != nil {
			return nil, e.wrapConnErr(ctx, "write", err)
		}
	}

	var audio bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && audio.Len() > 0 {
				break
			}
			return nil, e.wrapConnErr(ctx, "read", err)
		}

		var msg wsAudioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			e.logger.Warn("failed to parse message", "error", err)
			continue
		}
		if msg.Error != "" {
			return nil, &APIError{StatusCode: http.StatusBadGateway, Code: msg.Error, Message: msg.Message, Provider: providerElevenLabsWS}
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, WrapError(providerElevenLabsWS, fmt.Errorf("decode audio: %w", err))
			}
			audio.Write(chunk)
		}
		if msg.IsFinal {
			break
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	if audio.Len() == 0 {
		return nil, WrapError(providerElevenLabsWS, ErrEmptyAudio)
	}

	result := pcmResult(audio.Bytes(), e.config.OutputFormat, text, start)
	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", audio.Len(),
		"latency_ms", result.Latency.Milliseconds(),
	)
	return result, nil
}

func (e *ElevenLabsWS) wrapConnErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return WrapError(providerElevenLabsWS, ctxErr)
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
		return &APIError{StatusCode: http.StatusUnauthorized, Message: closeErr.Text, Provider: providerElevenLabsWS}
	}
	// A dropped session is worth another attempt.
	return WrapError(providerElevenLabsWS, resilience.WithKind(fmt.Errorf("%s: %w", op, err), resilience.KindTransient))
}

// Health opens and closes a session.
func (e *ElevenLabsWS) Health(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream-input?model_id=%s",
		e.baseURL, url.PathEscape(e.config.VoiceID), url.QueryEscape(e.config.ModelID))
	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	conn, _, err := e.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return WrapError(providerElevenLabsWS, fmt.Errorf("health check: %w", err))
	}
	return conn.Close()
}

// Close is a no-op; sessions are per call.
func (e *ElevenLabsWS) Close() error {
	return nil
}

var _ Synthesizer = (*ElevenLabsWS)(nil)
