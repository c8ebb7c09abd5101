package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/teslashibe/go-voicestream/internal/httpc"
)

const providerGemini = "gemini"

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini streams replies from the Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
	config *Config
	logger *slog.Logger
}

// NewGemini creates a Gemini generator.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = ""
	cfg.Model = DefaultGeminiModel
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httpc.NewStreamingClient(cfg.HeaderTimeout)
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/"
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	return &Gemini{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Generate starts a streaming generation. Errors from the request itself
// surface on the first Recv.
func (g *Gemini) Generate(ctx context.Context, req *Request) (Stream, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	cfg := &genai.GenerateContentConfig{}
	system := req.SystemPrompt
	if system == "" {
		system = g.config.SystemPrompt
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	temp := req.Temperature
	if temp == 0 {
		temp = g.config.Temperature
	}
	if temp > 0 {
		cfg.Temperature = genai.Ptr(float32(temp))
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.config.MaxTokens
	}
	cfg.MaxOutputTokens = int32(maxTokens)

	sctx, cancel := context.WithCancel(ctx)
	seq := g.client.Models.GenerateContentStream(sctx, model, g.contents(req), cfg)
	next, stop := iter.Pull2(seq)

	g.logger.Debug("stream opened", "model", model, "history", len(req.History))
	return &geminiStream{ctx: sctx, next: next, stop: stop, cancel: cancel}, nil
}

// contents converts history and prompt to Gemini's alternating roles.
func (g *Gemini) contents(req *Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Text, role))
	}
	return append(out, genai.NewContentFromText(req.Prompt, genai.RoleUser))
}

// Health fetches the configured model's metadata.
func (g *Gemini) Health(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.config.Model, nil); err != nil {
		return geminiError(err)
	}
	return nil
}

// Close is a no-op; the SDK holds no long-lived connections of its own.
func (g *Gemini) Close() error {
	return nil
}

// geminiStream adapts the SDK's push iterator to Stream.
type geminiStream struct {
	ctx    context.Context
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc

	mu     sync.Mutex
	index  int
	done   bool
	closed bool
}

func (s *geminiStream) Recv() (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return Token{}, ErrStreamClosed
		}
		if s.done {
			return Token{}, io.EOF
		}

		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return Token{}, io.EOF
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return Token{}, ctxErr
			}
			return Token{}, geminiError(err)
		}

		text := resp.Text()
		if text == "" {
			continue
		}
		tok := Token{Index: s.index, Text: text}
		s.index++
		return tok, nil
	}
}

// Close cancels the request first so a Recv blocked in the SDK returns.
func (s *geminiStream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.stop()
	}
	return nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.Code, Message: apiErr.Message, Code: apiErr.Status, Provider: providerGemini}
	}
	return WrapError(providerGemini, fmt.Errorf("stream: %w", err))
}

var _ Generator = (*Gemini)(nil)
