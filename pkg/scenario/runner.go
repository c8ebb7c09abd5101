package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-voicestream/internal/log"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

// Outcome is the result of one scenario.
type Outcome struct {
	Scenario Scenario
	Passed   bool
	Reply    string
	TurnID   string

	// Latency is the turn's total latency, zero when no turn ran.
	Latency time.Duration

	// Stages holds the per-stage breakdown recorded on the bus.
	Stages map[string]time.Duration

	// Failures lists every check that did not hold.
	Failures []string
	Err      error
}

// Report collects the outcomes of a run.
type Report struct {
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Passed returns how many scenarios passed.
func (r Report) Passed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Passed {
			n++
		}
	}
	return n
}

// Failed returns how many scenarios failed.
func (r Report) Failed() int { return len(r.Outcomes) - r.Passed() }

// OK reports whether every scenario passed.
func (r Report) OK() bool { return r.Failed() == 0 }

// Runner plays scenarios against one pipeline, one at a time.
type Runner struct {
	pipeline *voice.Pipeline
	logger   *slog.Logger
}

// NewRunner returns a runner for p. A nil logger uses the package default.
func NewRunner(p *voice.Pipeline, logger *slog.Logger) *Runner {
	return &Runner{pipeline: p, logger: log.Component(logger, "scenario.Runner")}
}

// Run plays one scenario. Conversation history is cleared first so every
// scenario starts from the same state.
func (r *Runner) Run(ctx context.Context, s Scenario) Outcome {
	out := Outcome{Scenario: s}
	if err := r.pipeline.ClearHistory(); err != nil {
		out.Err = err
		out.Failures = append(out.Failures, fmt.Sprintf("clear history: %v", err))
		return out
	}

	res, err := r.pipeline.ProcessText(ctx, s.Input)
	if res != nil {
		out.Reply = res.Reply
		out.TurnID = res.TurnID
		out.Latency = res.Latency
		turnEvents := r.pipeline.Bus().ByTurn(res.TurnID)
		out.Stages = events.LatencyBreakdown(turnEvents)
		if total, ok := out.Stages[events.StageTurn]; ok {
			out.Latency = total
		}
		for _, e := range events.Filter(turnEvents, events.TypeErrorOccurred) {
			if p, ok := e.Payload.(events.ErrorOccurred); ok && !s.ExpectError {
				out.Failures = append(out.Failures, fmt.Sprintf("%s error (%s): %s", p.Stage, p.Kind, p.Message))
			}
		}
	}
	out.Err = err

	switch {
	case s.ExpectError:
		if err == nil {
			out.Failures = append(out.Failures, "expected an error, turn succeeded")
		}
	case err != nil:
		out.Failures = append(out.Failures, err.Error())
	default:
		if s.ExpectContains != "" && !strings.Contains(strings.ToLower(out.Reply), strings.ToLower(s.ExpectContains)) {
			out.Failures = append(out.Failures, fmt.Sprintf("reply does not contain %q", s.ExpectContains))
		}
		if s.MaxLatency > 0 && out.Latency > s.MaxLatency {
			out.Failures = append(out.Failures, fmt.Sprintf("latency %v exceeds %v", out.Latency.Round(time.Millisecond), s.MaxLatency))
		}
	}
	out.Passed = len(out.Failures) == 0

	r.logger.Debug("scenario finished",
		"name", s.Name,
		"passed", out.Passed,
		"turn_id", out.TurnID,
		"latency", out.Latency,
	)
	return out
}

// RunAll plays scenarios in order. It stops early only when ctx is done.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) Report {
	start := time.Now()
	var rep Report
	for _, s := range scenarios {
		if ctx.Err() != nil {
			break
		}
		rep.Outcomes = append(rep.Outcomes, r.Run(ctx, s))
	}
	rep.Elapsed = time.Since(start)
	r.logger.Info("scenarios finished",
		"total", len(rep.Outcomes),
		"passed", rep.Passed(),
		"failed", rep.Failed(),
		"elapsed", rep.Elapsed,
	)
	return rep
}
