package inference

import (
	"context"
	"errors"
	"testing"
)

func TestChain(t *testing.T) {
	ctx := context.Background()

	fast := func(reply string) *Mock {
		m := NewMock(reply)
		m.TokenDelay = 0
		return m
	}

	t.Run("Requires providers", func(t *testing.T) {
		if _, err := NewChain(); err != ErrProviderUnavailable {
			t.Errorf("Expected ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("First provider wins", func(t *testing.T) {
		first, second := fast("first"), fast("second")
		chain, _ := NewChain(first, second)

		stream, err := chain.Generate(ctx, &Request{Prompt: "Hi"})
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if text, _ := Collect(stream); text != "first" {
			t.Errorf("Expected first, got %q", text)
		}
		if second.CallCount() != 0 {
			t.Error("Second provider should not be called")
		}
	})

	t.Run("Falls back when Generate fails", func(t *testing.T) {
		chain, _ := NewChain(WithError(&APIError{StatusCode: 503}), fast("backup"))
		stream, err := chain.Generate(ctx, &Request{Prompt: "Hi"})
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if text, _ := Collect(stream); text != "backup" {
			t.Errorf("Expected backup, got %q", text)
		}
	})

	t.Run("Falls back when first Recv fails", func(t *testing.T) {
		broken := fast("never")
		broken.FailAfter = 0
		chain, _ := NewChain(broken, fast("backup"))

		stream, _ := chain.Generate(ctx, &Request{Prompt: "Hi"})
		text, err := Collect(stream)
		if err != nil || text != "backup" {
			t.Errorf("Collect = %q, %v", text, err)
		}
	})

	t.Run("Does not switch after the first token", func(t *testing.T) {
		flaky := fast("a b c")
		flaky.FailAfter = 1
		backup := fast("backup")
		chain, _ := NewChain(flaky, backup)

		stream, _ := chain.Generate(ctx, &Request{Prompt: "Hi"})
		text, err := Collect(stream)
		if text != "a" || !errors.Is(err, ErrStreamTruncated) {
			t.Errorf("Collect = %q, %v", text, err)
		}
		if backup.CallCount() != 0 {
			t.Error("Backup should not be called mid-reply")
		}
	})

	t.Run("Input errors do not fall back", func(t *testing.T) {
		backup := fast("backup")
		chain, _ := NewChain(fast("x"), backup)

		if _, err := chain.Generate(ctx, &Request{Prompt: ""}); !errors.Is(err, ErrEmptyPrompt) {
			t.Errorf("Expected ErrEmptyPrompt, got %v", err)
		}
		if backup.CallCount() != 0 {
			t.Error("Backup should not be called for input errors")
		}
	})

	t.Run("All providers fail", func(t *testing.T) {
		chain, _ := NewChain(WithError(errors.New("a")), WithError(errors.New("b")))
		_, err := chain.Generate(ctx, &Request{Prompt: "Hi"})

		var chainErr *ChainError
		if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
			t.Fatalf("Expected ChainError with 2 errors, got %v", err)
		}
	})

	t.Run("Health passes with one healthy provider", func(t *testing.T) {
		chain, _ := NewChain(WithError(errors.New("down")), fast("ok"))
		if err := chain.Health(ctx); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}
