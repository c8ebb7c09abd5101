package voice

import (
	"sync"

	"github.com/teslashibe/go-voicestream/pkg/inference"
)

// DefaultHistoryLimit is the number of turns kept when none is configured.
const DefaultHistoryLimit = 10

// History is a bounded FIFO of conversation turns. When full, the oldest
// turn is dropped.
type History struct {
	mu    sync.RWMutex
	limit int
	turns []inference.Turn
}

// NewHistory creates a history holding at most limit turns.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, turns: make([]inference.Turn, 0, limit)}
}

// Append adds turns, evicting the oldest beyond the limit.
func (h *History) Append(turns ...inference.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turns...)
	if over := len(h.turns) - h.limit; over > 0 {
		// Shift in place; the backing array never outgrows limit.
		n := copy(h.turns, h.turns[over:])
		clear(h.turns[n:])
		h.turns = h.turns[:n]
	}
}

// Turns returns a copy of the history, oldest first.
func (h *History) Turns() []inference.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]inference.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Limit returns the maximum number of stored turns.
func (h *History) Limit() int { return h.limit }

// Clear removes all turns.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.turns)
	h.turns = h.turns[:0]
}
