package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicestream/pkg/chunker"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// begin claims the pipeline for a new turn.
func (p *Pipeline) begin(ctx context.Context, first State) (*turn, error) {
	p.mu.Lock()
	if p.current != nil || p.state != StateIdle {
		p.mu.Unlock()
		return nil, ErrBusy
	}

	tctx, cancel := context.WithCancelCause(ctx)
	t := &turn{
		id:     uuid.NewString(),
		ctx:    tctx,
		cancel: cancel,
		start:  time.Now(),
	}
	t.result = &Result{TurnID: t.id}
	p.current = t
	p.mu.Unlock()

	p.logger.Debug("turn started", "turn_id", t.id, "state", first)
	p.transition(t, first)
	return t, nil
}

// transition moves to the next state if the table allows it.
func (p *Pipeline) transition(t *turn, to State) {
	p.mu.Lock()
	from := p.state
	if !from.CanTransition(to) {
		p.mu.Unlock()
		p.logger.Error("invalid state transition",
			"turn_id", t.id,
			"from", from,
			"to", to,
		)
		return
	}
	p.state = to
	fn := p.onStateChange
	p.mu.Unlock()

	if fn != nil {
		fn(from, to)
	}
}

func (p *Pipeline) publish(t *turn, payload events.Payload) {
	p.latency.OnEvent(p.bus.Publish(t.id, payload))
}

func (p *Pipeline) guard(resource string) resilience.Guard {
	policy := p.cfg.Retry.Policy()
	if p.policy != nil {
		policy = *p.policy
	}
	return resilience.Guard{
		Bucket:         p.limiters.Get(resource),
		Policy:         policy,
		AcquireTimeout: p.cfg.AcquireTimeout,
	}
}

// dispatch announces each sentence and hands it to the fan-out.
func (p *Pipeline) dispatch(t *turn, fan *fanout, sentences ...chunker.Sentence) bool {
	for _, s := range sentences {
		p.publish(t, events.SentenceReady{Ordinal: s.Ordinal, Text: s.Text})
		if !fan.dispatch(s) {
			return false
		}
		if fan.dispatched == 1 {
			p.transition(t, StateSynthesizing)
		}
	}
	return true
}

// cancelErr describes why the turn context ended.
func (p *Pipeline) cancelErr(t *turn) error {
	cause := context.Cause(t.ctx)
	if cause == nil || errors.Is(cause, ErrCancelled) {
		return ErrCancelled
	}
	return resilience.WithKind(fmt.Errorf("%w: %w", ErrCancelled, cause), resilience.KindCancelled)
}

// fail ends the turn in the Error state. A nil err means the work was
// stopped from outside; the reason is taken from fan or the turn context.
// Segments already synthesized are kept as a truncated partial result.
func (p *Pipeline) fail(t *turn, err error, fan *fanout) (*Result, error) {
	if fan != nil {
		segments, ferr := fan.close()
		t.result.Segments = segments
		if err == nil {
			err = ferr
		}
	}
	if t.ctx.Err() != nil || err == nil {
		err = p.cancelErr(t)
	}

	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: p.State().stage(), Err: err}
		err = se
	}
	kind := resilience.KindOf(err)

	res := t.result
	res.Err = err
	res.Truncated = len(res.Segments) > 0
	res.Outcome = OutcomeFailed
	if kind == resilience.KindCancelled {
		res.Outcome = OutcomeCancelled
	}

	p.publish(t, events.ErrorOccurred{
		Stage:   se.Stage,
		Kind:    string(kind),
		Message: err.Error(),
	})
	p.logger.Warn("turn failed",
		"turn_id", t.id,
		"stage", se.Stage,
		"kind", kind,
		"attempts", resilience.Attempts(err),
		"segments", len(res.Segments),
		"error", err,
	)

	p.transition(t, StateError)
	return p.finish(t)
}

// finish publishes TurnComplete and returns the pipeline to Idle.
func (p *Pipeline) finish(t *turn) (*Result, error) {
	res := t.result
	res.Latency = time.Since(t.start)
	p.publish(t, events.TurnComplete{
		TotalLatency: res.Latency,
		Truncated:    res.Truncated,
		Outcome:      string(res.Outcome),
	})

	p.transition(t, StateIdle)
	p.mu.Lock()
	p.current = nil
	p.last = res
	p.mu.Unlock()
	t.cancel(nil)

	if res.Err == nil {
		p.logger.Info("turn complete",
			"turn_id", t.id,
			"outcome", res.Outcome,
			"segments", len(res.Segments),
			"latency_ms", res.Latency.Milliseconds(),
		)
		return res, nil
	}
	return res, res.Err
}
