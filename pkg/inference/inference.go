// Package inference provides a unified interface for streaming text
// generation.
//
// A Generator turns a prompt plus conversation history into a Stream of
// tokens. Streams are lazy, ordered and finite: Recv returns io.EOF once the
// reply is complete, and Close abandons generation early. Any
// OpenAI-compatible endpoint (OpenAI, Ollama, vLLM, Groq) works through
// Client; Gemini is served by the genai SDK.
//
// Example usage:
//
//	gen, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    inference.WithModel("gpt-4o-mini"),
//	)
//	defer gen.Close()
//
//	stream, _ := gen.Generate(ctx, &inference.Request{Prompt: "Hello!"})
//	defer stream.Close()
//	for {
//	    tok, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(tok.Text)
//	}
package inference

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Generator produces a streamed reply for a request.
type Generator interface {
	// Generate starts a reply. Errors that occur after the stream is
	// opened surface from Recv.
	Generate(ctx context.Context, req *Request) (Stream, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the generator.
	Close() error
}

// Stream is an ordered, finite sequence of tokens.
type Stream interface {
	// Recv returns the next token, or io.EOF when the reply is complete.
	Recv() (Token, error)

	// Close stops generation and releases the connection. Tokens already
	// received stay valid.
	Close() error
}

// Token is one fragment of generated text. Index starts at 0 and increases
// by one per token within a stream.
type Token struct {
	Index int
	Text  string
}

// Request describes one generation.
type Request struct {
	// Prompt is the current user utterance.
	Prompt string

	// History is prior turns, oldest first.
	History []Turn

	// SystemPrompt overrides the configured system prompt.
	SystemPrompt string

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64
}

// Messages flattens the request into chat messages: system prompt, history,
// then the prompt as the final user message.
func (r *Request) Messages(defaultSystem string) []Message {
	system := r.SystemPrompt
	if system == "" {
		system = defaultSystem
	}

	msgs := make([]Message, 0, len(r.History)+2)
	if system != "" {
		msgs = append(msgs, NewSystemMessage(system))
	}
	for _, t := range r.History {
		msgs = append(msgs, Message{Role: t.Role, Content: t.Text})
	}
	return append(msgs, NewUserMessage(r.Prompt))
}

// Collect drains s and returns the concatenated text. The stream is closed.
func Collect(s Stream) (string, error) {
	defer s.Close()

	var sb strings.Builder
	for {
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(tok.Text)
	}
}
