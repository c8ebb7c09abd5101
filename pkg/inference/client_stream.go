package inference

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// clientStream implements Stream for SSE responses.
type clientStream struct {
	reader *bufio.Reader
	body   io.ReadCloser

	// mu serializes Recv. Close does not take it because it must be able
	// to interrupt a Recv blocked on the body.
	mu     sync.Mutex
	index  int
	done   bool
	closed atomic.Bool
}

// Recv returns the next non-empty content delta.
func (s *clientStream) Recv() (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return Token{}, ErrStreamClosed
	}
	if s.done {
		return Token{}, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if s.closed.Load() {
				return Token{}, ErrStreamClosed
			}
			if errors.Is(err, io.EOF) {
				return Token{}, WrapError(providerClient, ErrStreamTruncated)
			}
			return Token{}, WrapError(providerClient, fmt.Errorf("read stream: %w", err))
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return Token{}, io.EOF
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			// Skip malformed events
			continue
		}
		if event.Error != nil {
			return Token{}, &APIError{
				StatusCode: streamErrorStatus(event.Error.Code, event.Error.Type),
				Message:    event.Error.Message,
				Code:       event.Error.Code,
				Provider:   providerClient,
			}
		}
		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		if choice.Delta.Content == "" {
			continue
		}
		tok := Token{Index: s.index, Text: choice.Delta.Content}
		s.index++
		return tok, nil
	}
}

// Close stops the stream. It is safe to call more than once.
func (s *clientStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.body.Close()
}

// streamEvent is the SSE event format.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// streamErrorStatus maps the code or type of an error sent inside a 200
// stream to the HTTP status the same failure gets before streaming starts.
func streamErrorStatus(code, typ string) int {
	for _, v := range []string{code, typ} {
		switch v {
		case "invalid_api_key", "invalid_authentication", "authentication_error":
			return 401
		case "insufficient_quota", "permission_error", "permission_denied":
			return 403
		case "model_not_found", "not_found_error":
			return 404
		case "rate_limit_exceeded", "rate_limit_error", "requests", "tokens":
			return 429
		case "context_length_exceeded", "invalid_request_error", "invalid_value", "string_above_max_length":
			return 400
		case "overloaded_error", "service_unavailable":
			return 503
		case "server_error", "api_error":
			return 500
		}
	}
	return 500
}
