package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Observer receives every published event.
// Observers run on the publishing goroutine and must not publish to the
// bus they observe.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report observer panics.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = logger }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// WithMaxTurns keeps only the events of the n most recently started turns.
// Older turns are dropped as new ones begin. Zero keeps everything.
func WithMaxTurns(n int) BusOption {
	return func(b *Bus) { b.maxTurns = n }
}

type subscription struct {
	id  uint64
	obs Observer
}

// Bus is an append-only event log with synchronous observers.
// It is safe for concurrent publication. Observers see events in log order.
// Sequence numbers increase monotonically even when old turns are dropped.
type Bus struct {
	logger   *slog.Logger
	now      func() time.Time
	maxTurns int

	// publishMu serialises append+notify so observers never see events
	// out of log order.
	publishMu sync.Mutex

	mu        sync.Mutex
	log       []Event
	seq       uint64
	observers []subscription
	nextSubID uint64

	// Turns in the log, oldest first. Only tracked when maxTurns > 0.
	turns    []string
	turnSeen map[string]struct{}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		logger:   slog.Default(),
		now:      time.Now,
		turnSeen: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "events.Bus")
	return b
}

// Subscribe registers an observer and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.observers = append(b.observers, subscription{id: id, obs: o})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.observers {
			if s.id == id {
				b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// Publish appends an event and notifies observers in registration order.
// A panicking observer is recovered and logged; later observers still run.
func (b *Bus) Publish(turnID string, p Payload) Event {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	b.seq++
	e := Event{Seq: b.seq, Time: b.now(), TurnID: turnID, Payload: p}
	if b.maxTurns > 0 {
		b.retain(turnID)
	}
	b.log = append(b.log, e)
	observers := make([]subscription, len(b.observers))
	copy(observers, b.observers)
	b.mu.Unlock()

	for i, s := range observers {
		b.notify(i, s.obs, e)
	}
	return e
}

// retain records turnID and evicts the oldest turns beyond maxTurns.
// Must be called with mu held.
func (b *Bus) retain(turnID string) {
	if _, ok := b.turnSeen[turnID]; ok {
		return
	}
	b.turnSeen[turnID] = struct{}{}
	b.turns = append(b.turns, turnID)

	excess := len(b.turns) - b.maxTurns
	if excess <= 0 {
		return
	}
	dropped := make(map[string]struct{}, excess)
	for _, id := range b.turns[:excess] {
		dropped[id] = struct{}{}
		delete(b.turnSeen, id)
	}
	b.turns = append([]string(nil), b.turns[excess:]...)

	kept := make([]Event, 0, len(b.log))
	for _, e := range b.log {
		if _, ok := dropped[e.TurnID]; !ok {
			kept = append(kept, e)
		}
	}
	b.log = kept
}

func (b *Bus) notify(index int, o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observer panicked",
				"observer_index", index,
				"event", e.Type(),
				"seq", e.Seq,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	o.OnEvent(e)
}

// Events returns a copy of the log.
func (b *Bus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.log))
	copy(out, b.log)
	return out
}

// Len returns the number of logged events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.log)
}

// Drain returns the log and, if clear is set, empties it.
// Sequence numbers keep increasing across drains.
func (b *Bus) Drain(clear bool) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.log
	if clear {
		b.log = nil
		b.turns = nil
		b.turnSeen = make(map[string]struct{})
		return out
	}
	cp := make([]Event, len(out))
	copy(cp, out)
	return cp
}

// ByType returns logged events of type t in order.
func (b *Bus) ByType(t Type) []Event {
	return Filter(b.Events(), t)
}

// ByTurn returns logged events for one turn in order.
func (b *Bus) ByTurn(turnID string) []Event {
	var out []Event
	for _, e := range b.Events() {
		if e.TurnID == turnID {
			out = append(out, e)
		}
	}
	return out
}

// Filter returns the events of type t.
func Filter(evs []Event, t Type) []Event {
	var out []Event
	for _, e := range evs {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}
