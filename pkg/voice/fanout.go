package voice

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/chunker"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
	"github.com/teslashibe/go-voicestream/pkg/tts"
)

// fanout runs per-sentence synthesis concurrently with generation.
// Results are keyed by ordinal; completion order is irrelevant.
type fanout struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	synth  tts.Synthesizer
	guard  resilience.Guard
	sem    chan struct{}
	emit   func(events.Payload)

	wg         sync.WaitGroup
	dispatched int // touched only by the generation loop

	mu       sync.Mutex
	segments map[int]Segment
	err      error
	closed   bool
}

func newFanout(ctx context.Context, synth tts.Synthesizer, guard resilience.Guard, limit int, emit func(events.Payload)) *fanout {
	fctx, cancel := context.WithCancelCause(ctx)
	return &fanout{
		ctx:      fctx,
		cancel:   cancel,
		synth:    synth,
		guard:    guard,
		sem:      make(chan struct{}, limit),
		emit:     emit,
		segments: make(map[int]Segment),
	}
}

// dispatch starts synthesis of s once a slot is free. It returns false
// when the fan-out was stopped while waiting.
func (f *fanout) dispatch(s chunker.Sentence) bool {
	select {
	case f.sem <- struct{}{}:
	case <-f.ctx.Done():
		return false
	}

	f.emit(events.SynthesisStarted{Ordinal: s.Ordinal})
	f.dispatched++
	f.wg.Add(1)
	go f.run(s)
	return true
}

func (f *fanout) run(s chunker.Sentence) {
	defer f.wg.Done()
	start := time.Now()

	res, err := resilience.Call(f.ctx, f.guard, func(ctx context.Context) (*tts.Result, error) {
		return f.synth.Synthesize(ctx, s.Text)
	})
	<-f.sem
	if err != nil {
		f.fail(&StageError{Stage: StageSynthesis, Err: err})
		return
	}

	seg := Segment{
		Ordinal: s.Ordinal,
		Text:    s.Text,
		Audio:   res.Value.Audio,
		Latency: time.Since(start),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.segments[seg.Ordinal] = seg
	f.emit(events.SynthesisComplete{Ordinal: seg.Ordinal, Latency: seg.Latency})
}

// fail records the first real failure and stops the remaining work.
// Cancellation errors are echoes of a stop that was already decided.
func (f *fanout) fail(err error) {
	if resilience.KindOf(err) == resilience.KindCancelled {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.err != nil {
		return
	}
	f.err = err
	f.cancel(err)
}

// wait blocks until every dispatched task finished or the fan-out was
// stopped. Stopped tasks are abandoned, not awaited.
func (f *fanout) wait() {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-f.ctx.Done():
	}
}

// close stops outstanding tasks and returns the failure, if any, plus the
// contiguous prefix of finished segments. Late completions are dropped.
func (f *fanout) close() ([]Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cancel(context.Canceled)

	out := make([]Segment, 0, len(f.segments))
	for i := 0; ; i++ {
		seg, ok := f.segments[i]
		if !ok {
			break
		}
		out = append(out, seg)
	}
	return out, f.err
}

// complete reports whether every dispatched sentence has a segment.
func (f *fanout) complete(segs []Segment) bool {
	return len(segs) == f.dispatched
}
