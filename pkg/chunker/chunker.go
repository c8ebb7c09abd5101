// Package chunker turns a stream of model tokens into speakable sentences.
//
// Sentences are emitted as soon as a boundary is certain, so synthesis of the
// first sentence can start while the model is still generating the rest.
// A false boundary is worse than a late one: it produces audibly broken
// speech, so every guard errs towards keeping text together.
//
// Example usage:
//
//	c := chunker.New()
//	for tok := range tokens {
//		sentences, err := c.Feed(chunker.Fragment{Index: tok.Index, Text: tok.Text})
//		...
//	}
//	if last, ok := c.Flush(); ok {
//		...
//	}
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOutOfOrder is returned when fragment indices do not strictly increase.
var ErrOutOfOrder = errors.New("chunker: fragment out of order")

// Fragment is one piece of streamed model output.
type Fragment struct {
	Index int
	Text  string
}

// Sentence is a unit of text ready for synthesis.
type Sentence struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
	Final   bool   `json:"final"` // emitted by Flush
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMinLength merges candidate sentences shorter than n runes into the
// following one. Zero disables merging.
func WithMinLength(n int) Option {
	return func(c *Chunker) { c.minLen = n }
}

// WithAbbreviations adds words (without the trailing period) that never end
// a sentence.
func WithAbbreviations(words ...string) Option {
	return func(c *Chunker) {
		for _, w := range words {
			c.abbrevs[strings.ToLower(strings.TrimSuffix(w, "."))] = struct{}{}
		}
	}
}

// Chunker accumulates fragments and emits sentences. It is not safe for
// concurrent use; one Chunker serves one reply.
type Chunker struct {
	buf     []rune // text not yet emitted
	pos     int    // scan cursor into buf; everything before it is decided
	ordinal int

	lastIndex int
	started   bool

	minLen  int
	abbrevs map[string]struct{}
}

// New creates a Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{abbrevs: defaultAbbreviations()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Feed appends a fragment and returns the sentences it completed.
func (c *Chunker) Feed(f Fragment) ([]Sentence, error) {
	if c.started && f.Index <= c.lastIndex {
		return nil, fmt.Errorf("%w: index %d after %d", ErrOutOfOrder, f.Index, c.lastIndex)
	}
	c.started = true
	c.lastIndex = f.Index

	if f.Text == "" {
		return nil, nil
	}
	c.buf = append(c.buf, []rune(f.Text)...)
	return c.scan(), nil
}

// Flush emits whatever remains, regardless of punctuation. It reports false
// when nothing but whitespace is buffered.
func (c *Chunker) Flush() (Sentence, bool) {
	text := strings.TrimSpace(string(c.buf))
	c.buf = c.buf[:0]
	c.pos = 0
	if text == "" {
		return Sentence{}, false
	}
	return c.emit(text, true), true
}

// Pending returns the buffered text that has not been emitted.
func (c *Chunker) Pending() string {
	return string(c.buf)
}

// Emitted returns how many sentences have been produced.
func (c *Chunker) Emitted() int {
	return c.ordinal
}

// Reset clears all state so the Chunker can serve another reply.
func (c *Chunker) Reset() {
	c.buf = nil
	c.pos = 0
	c.ordinal = 0
	c.lastIndex = 0
	c.started = false
}

// Split chunks a complete text in one call.
func Split(text string, opts ...Option) []Sentence {
	c := New(opts...)
	out, _ := c.Feed(Fragment{Text: text})
	if last, ok := c.Flush(); ok {
		out = append(out, last)
	}
	return out
}

func (c *Chunker) emit(text string, final bool) Sentence {
	s := Sentence{Ordinal: c.ordinal, Text: text, Final: final}
	c.ordinal++
	return s
}

// scan walks forward from the cursor. The cursor never moves backwards, and
// emitted text is dropped from the front of the buffer.
func (c *Chunker) scan() []Sentence {
	var out []Sentence
	i := c.pos
	for i < len(c.buf) {
		if !isTerminal(c.buf[i]) {
			i++
			continue
		}

		end, v := c.evaluate(i)
		switch v {
		case deferred:
			c.pos = i
			return out
		case rejected:
			i = end
			continue
		}

		text := strings.TrimSpace(string(c.buf[:end]))
		if c.minLen > 0 && len([]rune(text)) < c.minLen {
			i = end
			continue
		}
		out = append(out, c.emit(text, false))
		c.buf = c.buf[end:]
		i = 0
	}
	c.pos = i
	return out
}
