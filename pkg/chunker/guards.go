package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

type verdict int

const (
	accepted verdict = iota
	rejected
	deferred // not enough right context yet
)

// evaluate decides whether the terminal punctuation starting at i ends a
// sentence. It returns the index just past the boundary (or past the
// punctuation run when rejected).
//
// Guards run in a fixed order:
//  1. decimal: digit '.' digit
//  2. ellipsis: three or more dots need whitespace then a capital
//  3. URL: the token contains "://", starts with "www." or looks like a domain
//  4. abbreviation: known abbreviations, single capitals, dotted initialisms
//  5. quote/bracket: an accepted boundary moves past closing delimiters
//
// Runs containing '!' or '?' skip guards 2 to 4.
func (c *Chunker) evaluate(i int) (int, verdict) {
	buf := c.buf
	j := i
	for j < len(buf) && isTerminal(buf[j]) {
		j++
	}
	if j == len(buf) {
		return i, deferred
	}
	run := buf[i:j]

	if isDecimalPoint(buf, i, j) {
		return j, rejected
	}

	k := j
	for k < len(buf) && isCloser(buf[k]) {
		k++
	}
	if k == len(buf) {
		return i, deferred
	}
	if !unicode.IsSpace(buf[k]) {
		return k, rejected
	}

	if strings.ContainsAny(string(run), "!?") {
		return k, accepted
	}

	if len(run) >= 3 {
		m := k
		for m < len(buf) && unicode.IsSpace(buf[m]) {
			m++
		}
		if m == len(buf) {
			return i, deferred
		}
		if !unicode.IsUpper(buf[m]) {
			return k, rejected
		}
		return k, accepted
	}

	if isURLToken(buf, i, k) {
		return k, rejected
	}
	if c.isAbbreviation(buf, i) {
		return k, rejected
	}
	return k, accepted
}

// isDecimalPoint reports a single '.' flanked by digits.
func isDecimalPoint(buf []rune, i, j int) bool {
	return j == i+1 && buf[i] == '.' &&
		i > 0 && unicode.IsDigit(buf[i-1]) &&
		j < len(buf) && unicode.IsDigit(buf[j])
}

var domainPattern = regexp.MustCompile(`^[a-z0-9-]+(\.[a-z0-9-]+)*\.[a-z]{2,6}(/\S*)?$`)

// isURLToken inspects the whitespace-delimited token around the '.' at i.
// end is the index just past the token's trailing punctuation and closers.
func isURLToken(buf []rune, i, end int) bool {
	s := i
	for s > 0 && !unicode.IsSpace(buf[s-1]) {
		s--
	}
	tok := strings.ToLower(string(buf[s:end]))
	tok = strings.TrimLeft(tok, openers)
	tok = strings.TrimRight(tok, closers)

	if strings.Contains(tok, "://") || strings.HasPrefix(tok, "www.") {
		return true
	}
	return domainPattern.MatchString(strings.TrimRight(tok, ".!?"))
}

func (c *Chunker) isAbbreviation(buf []rune, i int) bool {
	w := i
	for w > 0 && unicode.IsLetter(buf[w-1]) {
		w--
	}
	word := buf[w:i]
	if len(word) == 0 {
		return false
	}
	// Dotted initialisms: e.g. i.e. U.S. Every segment is one letter.
	if len(word) == 1 && isInitialSegment(buf, w-1) {
		return true
	}
	if len(word) == 1 && unicode.IsUpper(word[0]) {
		return true
	}
	_, ok := c.abbrevs[strings.ToLower(string(word))]
	return ok
}

// isInitialSegment reports whether the '.' at dot ends a single letter that
// starts a word or follows another '.'.
func isInitialSegment(buf []rune, dot int) bool {
	if dot < 1 || buf[dot] != '.' || !unicode.IsLetter(buf[dot-1]) {
		return false
	}
	return dot == 1 || !unicode.IsLetter(buf[dot-2])
}

const (
	openers = "\"'“‘([{«"
	closers = "\"'”’)]}»"
)

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	return strings.ContainsRune(closers, r)
}

func defaultAbbreviations() map[string]struct{} {
	words := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st",
		"vs", "etc", "inc", "ltd", "corp",
		"ave", "blvd", "dept", "fig", "vol", "approx",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
