package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default resource names guarded by the pipeline.
const (
	ResourceTranscription = "transcription-api"
	ResourceGeneration    = "generation-api"
	ResourceSynthesis     = "synthesis-api"
)

// Limit configures one token bucket.
type Limit struct {
	Capacity        int     `yaml:"capacity" json:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second" json:"refill_per_second"`
}

// Validate checks the limit parameters.
func (l Limit) Validate() error {
	if l.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", l.Capacity)
	}
	if l.RefillPerSecond <= 0 {
		return fmt.Errorf("refill_per_second must be positive, got %v", l.RefillPerSecond)
	}
	return nil
}

// Bucket is a token bucket. Refill is computed lazily from elapsed time on
// each acquisition attempt; there is no background goroutine.
type Bucket struct {
	name string

	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	last     time.Time
	now      func() time.Time
}

// NewBucket creates a full bucket.
func NewBucket(name string, l Limit) *Bucket {
	return newBucket(name, l, time.Now)
}

func newBucket(name string, l Limit, now func() time.Time) *Bucket {
	capacity := float64(l.Capacity)
	if capacity < 1 {
		capacity = 1
	}
	return &Bucket{
		name:     name,
		tokens:   capacity,
		capacity: capacity,
		rate:     l.RefillPerSecond,
		last:     now(),
		now:      now,
	}
}

// Name returns the resource name the bucket guards.
func (b *Bucket) Name() string { return b.name }

// refill must be called with mu held.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

// take consumes a token if one is available, otherwise it reports how long
// until the next one.
func (b *Bucket) take() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.rate <= 0 {
		return false, time.Hour
	}
	missing := 1 - b.tokens
	return false, time.Duration(missing / b.rate * float64(time.Second))
}

// TryAcquire consumes a token without waiting.
func (b *Bucket) TryAcquire() bool {
	ok, _ := b.take()
	return ok
}

// Tokens returns the current token count after refill.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Acquire waits until a token is available, the timeout elapses, or ctx is
// done. A timeout <= 0 waits as long as ctx allows. Waiting uses timers;
// the bucket lock is never held while sleeping.
func (b *Bucket) Acquire(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		ok, wait := b.take()
		if ok {
			return nil
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-deadline:
			t.Stop()
			if b.TryAcquire() {
				return nil
			}
			return fmt.Errorf("%s: %w", b.name, ErrRateLimitTimeout)
		case <-ctx.Done():
			t.Stop()
			return WithKind(ctx.Err(), KindCancelled)
		}
	}
}

// Limiters is a registry of named buckets. It is constructed explicitly and
// may be shared by several pipelines that talk to the same backends.
type Limiters struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
}

// NewLimiters creates a registry with one bucket per entry.
func NewLimiters(limits map[string]Limit) *Limiters {
	l := &Limiters{buckets: make(map[string]*Bucket, len(limits))}
	for name, lim := range limits {
		l.buckets[name] = NewBucket(name, lim)
	}
	return l
}

// Set installs or replaces the bucket for name.
func (l *Limiters) Set(name string, lim Limit) *Bucket {
	b := NewBucket(name, lim)
	l.mu.Lock()
	l.buckets[name] = b
	l.mu.Unlock()
	return b
}

// Get returns the bucket for name, or nil when the resource is unlimited.
// A nil registry is unlimited.
func (l *Limiters) Get(name string) *Bucket {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buckets[name]
}

// Names returns the registered resource names.
func (l *Limiters) Names() []string {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.buckets))
	for n := range l.buckets {
		names = append(names, n)
	}
	return names
}
