package chunker_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/teslashibe/go-voicestream/pkg/chunker"
)

func texts(ss []chunker.Sentence) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Text
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// feedRunes streams text one rune per fragment, the worst case for lookahead.
func feedRunes(t *testing.T, text string, opts ...chunker.Option) []chunker.Sentence {
	t.Helper()
	c := chunker.New(opts...)
	var out []chunker.Sentence
	for i, r := range []rune(text) {
		ss, err := c.Feed(chunker.Fragment{Index: i, Text: string(r)})
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		out = append(out, ss...)
	}
	if last, ok := c.Flush(); ok {
		out = append(out, last)
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "three sentences",
			in:   "Hello! Is this working? I hope so.",
			want: []string{"Hello!", "Is this working?", "I hope so."},
		},
		{
			name: "abbreviation",
			in:   "Dr. Smith arrived.",
			want: []string{"Dr. Smith arrived."},
		},
		{
			name: "decimal",
			in:   "The value is 3.14 exactly.",
			want: []string{"The value is 3.14 exactly."},
		},
		{
			name: "single capital initial",
			in:   "J. R. Tolkien wrote it. Read it.",
			want: []string{"J. R. Tolkien wrote it.", "Read it."},
		},
		{
			name: "dotted initialism",
			in:   "Bring fruit, e.g. apples. Then leave.",
			want: []string{"Bring fruit, e.g. apples.", "Then leave."},
		},
		{
			name: "word after ellipsis is not an initialism",
			in:   "Hmm...so. Then we go.",
			want: []string{"Hmm...so.", "Then we go."},
		},
		{
			name: "lowercase initialism",
			in:   "Meet at 9 a.m. sharp. Bring food.",
			want: []string{"Meet at 9 a.m. sharp.", "Bring food."},
		},
		{
			name: "quote moves boundary",
			in:   `He said "Stop." Then he left.`,
			want: []string{`He said "Stop."`, "Then he left."},
		},
		{
			name: "bracket moves boundary",
			in:   "It worked (mostly.) Good enough.",
			want: []string{"It worked (mostly.)", "Good enough."},
		},
		{
			name: "ellipsis lowercase continues",
			in:   "Well... maybe later.",
			want: []string{"Well... maybe later."},
		},
		{
			name: "ellipsis capital ends",
			in:   "Wait... Then go.",
			want: []string{"Wait...", "Then go."},
		},
		{
			name: "url with scheme",
			in:   "See https://go.dev/doc. It explains everything.",
			want: []string{"See https://go.dev/doc. It explains everything."},
		},
		{
			name: "bare domain",
			in:   "Visit example.com. Then sign up.",
			want: []string{"Visit example.com. Then sign up."},
		},
		{
			name: "mixed terminal run",
			in:   "Really?! Yes.",
			want: []string{"Really?!", "Yes."},
		},
		{
			name: "no terminal punctuation",
			in:   "just some words",
			want: []string{"just some words"},
		},
		{
			name: "whitespace only",
			in:   "   ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := texts(chunker.Split(tt.in))
			if !equal(got, tt.want) {
				t.Errorf("Split(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
		t.Run(tt.name+" streamed", func(t *testing.T) {
			got := texts(feedRunes(t, tt.in))
			if !equal(got, tt.want) {
				t.Errorf("streamed %q = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGuardPrecedence(t *testing.T) {
	// The decimal guard judges the inner '.', then the quote guard moves the
	// accepted boundary past the closing quote.
	in := `She said "it costs 3.50 dollars." Then she left.`
	want := []string{`She said "it costs 3.50 dollars."`, "Then she left."}
	if got := texts(chunker.Split(in)); !equal(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}

	// An abbreviation inside quotes is still an abbreviation.
	in = `He asked "Dr." Smith. Fine.`
	want = []string{`He asked "Dr." Smith.`, "Fine."}
	if got := texts(chunker.Split(in)); !equal(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestFeed_DefersAtBufferEnd(t *testing.T) {
	c := chunker.New()

	ss, _ := c.Feed(chunker.Fragment{Index: 0, Text: "The answer is 3."})
	if len(ss) != 0 {
		t.Fatalf("emitted %q before right context arrived", texts(ss))
	}
	ss, _ = c.Feed(chunker.Fragment{Index: 1, Text: "14 today. "})
	if want := []string{"The answer is 3.14 today."}; !equal(texts(ss), want) {
		t.Errorf("got %q, want %q", texts(ss), want)
	}
	if c.Pending() != " " {
		t.Errorf("Pending() = %q", c.Pending())
	}
}

func TestFeed_OrdinalsGapless(t *testing.T) {
	c := chunker.New()
	words := strings.Fields("One. Two! Three? Four. Five")
	var all []chunker.Sentence
	for i, w := range words {
		ss, err := c.Feed(chunker.Fragment{Index: i, Text: w + " "})
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, ss...)
	}
	if last, ok := c.Flush(); ok {
		if !last.Final {
			t.Error("flushed sentence should be Final")
		}
		all = append(all, last)
	}
	if len(all) != 5 {
		t.Fatalf("got %d sentences: %q", len(all), texts(all))
	}
	for i, s := range all {
		if s.Ordinal != i {
			t.Errorf("sentence %d has ordinal %d", i, s.Ordinal)
		}
	}
	if c.Emitted() != 5 {
		t.Errorf("Emitted() = %d", c.Emitted())
	}
}

func TestFeed_OutOfOrder(t *testing.T) {
	c := chunker.New()
	if _, err := c.Feed(chunker.Fragment{Index: 3, Text: "a"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Feed(chunker.Fragment{Index: 3, Text: "b"})
	if !errors.Is(err, chunker.ErrOutOfOrder) {
		t.Errorf("error = %v, want ErrOutOfOrder", err)
	}
}

func TestWithMinLength(t *testing.T) {
	got := texts(chunker.Split("Hi. How are you doing today? Fine.", chunker.WithMinLength(10)))
	want := []string{"Hi. How are you doing today?", "Fine."}
	if !equal(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestWithAbbreviations(t *testing.T) {
	got := texts(chunker.Split("Call Capt. Nemo now. Go.", chunker.WithAbbreviations("Capt.")))
	want := []string{"Call Capt. Nemo now.", "Go."}
	if !equal(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestReset(t *testing.T) {
	c := chunker.New()
	_, _ = c.Feed(chunker.Fragment{Index: 5, Text: "First. Second"})
	c.Reset()
	if c.Pending() != "" || c.Emitted() != 0 {
		t.Fatalf("Reset() left state: pending %q, emitted %d", c.Pending(), c.Emitted())
	}
	if _, err := c.Feed(chunker.Fragment{Index: 0, Text: "again"}); err != nil {
		t.Errorf("Feed() after Reset() error = %v", err)
	}
}

func BenchmarkFeed_LongReply(b *testing.B) {
	reply := strings.Repeat("This is a sentence with Dr. Who and 3.14 in it. ", 200)
	words := strings.SplitAfter(reply, " ")
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		c := chunker.New()
		for i, w := range words {
			_, _ = c.Feed(chunker.Fragment{Index: i, Text: w})
		}
		c.Flush()
	}
}
