package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/chunker"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/inference"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
	"github.com/teslashibe/go-voicestream/pkg/stt"
	"github.com/teslashibe/go-voicestream/pkg/tts"
)

// Providers groups the external backends a pipeline drives.
// Transcriber may be nil for text-only pipelines.
type Providers struct {
	Transcriber stt.Transcriber
	Generator   inference.Generator
	Synthesizer tts.Synthesizer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBus publishes to an existing bus instead of a private one.
// Config.EventRetention applies only to the private bus.
func WithBus(bus *events.Bus) Option {
	return func(p *Pipeline) { p.bus = bus }
}

// WithLimiters shares rate-limit buckets with other pipelines. Resources
// missing from the registry are unlimited.
func WithLimiters(l *resilience.Limiters) Option {
	return func(p *Pipeline) { p.limiters = l }
}

// WithSink sets the consumer of completed turns' audio.
func WithSink(s Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithPolicy overrides the retry policy built from Config.Retry.
func WithPolicy(policy resilience.Policy) Option {
	return func(p *Pipeline) { p.policy = &policy }
}

// WithChunkerOptions passes extra options to each turn's chunker.
func WithChunkerOptions(opts ...chunker.Option) Option {
	return func(p *Pipeline) { p.chunkerOpts = append(p.chunkerOpts, opts...) }
}

// Pipeline drives one conversation: each turn runs capture, transcription,
// streamed generation, sentence chunking and concurrent synthesis, then
// assembles audio in sentence order.
//
// A pipeline runs one turn at a time. History carries over between turns.
type Pipeline struct {
	cfg         Config
	providers   Providers
	bus         *events.Bus
	limiters    *resilience.Limiters
	policy      *resilience.Policy
	sink        Sink
	normalizer  *audioio.Normalizer
	history     *History
	chunkerOpts []chunker.Option
	latency     *MetricsCollector
	logger      *slog.Logger

	mu            sync.Mutex
	state         State
	current       *turn
	last          *Result
	onStateChange func(from, to State)
}

// turn is the state of one in-flight turn.
type turn struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
	start  time.Time
	result *Result
}

// New creates a pipeline. Generator and Synthesizer are required.
func New(cfg Config, providers Providers, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if providers.Generator == nil || providers.Synthesizer == nil {
		return nil, ErrMissingProvider
	}

	p := &Pipeline{
		cfg:        cfg,
		providers:  providers,
		normalizer: audioio.NewNormalizer(cfg.Audio),
		history:    NewHistory(cfg.HistoryLimit),
		latency:    NewMetricsCollector(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "voice.Pipeline")
	if p.bus == nil {
		p.bus = events.NewBus(events.WithLogger(p.logger), events.WithMaxTurns(cfg.EventRetention))
	}
	if p.limiters == nil && len(cfg.RateLimits) > 0 {
		p.limiters = resilience.NewLimiters(cfg.RateLimits)
	}
	if cfg.MinSentenceLength > 0 {
		p.chunkerOpts = append([]chunker.Option{chunker.WithMinLength(cfg.MinSentenceLength)}, p.chunkerOpts...)
	}
	return p, nil
}

// OnStateChange sets a callback fired after every state transition.
// It runs on the turn's goroutine and must not block.
func (p *Pipeline) OnStateChange(fn func(from, to State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStateChange = fn
}

// Providers returns the stage backends the pipeline was built with.
func (p *Pipeline) Providers() Providers { return p.providers }

// Bus returns the event bus the pipeline publishes to.
func (p *Pipeline) Bus() *events.Bus { return p.bus }

// Latency returns the collector fed with this pipeline's own events. It
// ignores other publishers on a shared bus.
func (p *Pipeline) Latency() *MetricsCollector { return p.latency }

// Limiters returns the rate-limit registry, or nil when unlimited.
func (p *Pipeline) Limiters() *resilience.Limiters { return p.limiters }

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// History returns the conversation so far, oldest first.
func (p *Pipeline) History() []inference.Turn { return p.history.Turns() }

// ClearHistory forgets the conversation. It fails with ErrBusy during a turn.
func (p *Pipeline) ClearHistory() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return ErrBusy
	}
	p.history.Clear()
	return nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TurnID returns the ID of the in-flight turn, or "" when idle.
func (p *Pipeline) TurnID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ""
	}
	return p.current.id
}

// Last returns the result of the most recent finished turn, or nil.
func (p *Pipeline) Last() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Cancel aborts the in-flight turn. It reports whether a turn was running.
// The turn ends in the Error state with a cancelled kind; generation is
// stopped and in-flight synthesis is abandoned.
func (p *Pipeline) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	p.current.cancel(ErrCancelled)
	return true
}

// Health checks every configured provider.
func (p *Pipeline) Health(ctx context.Context) error {
	var errs []error
	if p.providers.Transcriber != nil {
		if err := p.providers.Transcriber.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("transcriber: %w", err))
		}
	}
	if err := p.providers.Generator.Health(ctx); err != nil {
		errs = append(errs, fmt.Errorf("generator: %w", err))
	}
	if err := p.providers.Synthesizer.Health(ctx); err != nil {
		errs = append(errs, fmt.Errorf("synthesizer: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases all providers.
func (p *Pipeline) Close() error {
	var errs []error
	if p.providers.Transcriber != nil {
		errs = append(errs, p.providers.Transcriber.Close())
	}
	errs = append(errs, p.providers.Generator.Close(), p.providers.Synthesizer.Close())
	return errors.Join(errs...)
}

// ProcessAudio runs a full turn from captured audio. A silent capture ends
// with OutcomeSilence and no provider calls. The returned error equals
// Result.Err; the result is nil only when the turn could not start.
func (p *Pipeline) ProcessAudio(ctx context.Context, raw audioio.Buffer) (*Result, error) {
	if p.providers.Transcriber == nil {
		return nil, ErrNoTranscriber
	}
	t, err := p.begin(ctx, StateCapturing)
	if err != nil {
		return nil, err
	}
	p.publish(t, events.CaptureStarted{})

	buf, err := p.normalizer.Normalize(raw)
	if err != nil {
		return p.fail(t, resilience.WithKind(err, resilience.KindInput), nil)
	}
	silent := p.normalizer.IsSilence(buf)
	p.publish(t, events.CaptureComplete{Duration: buf.Duration(), Silence: silent})
	if silent {
		t.result.Outcome = OutcomeSilence
		p.transition(t, StateComplete)
		return p.finish(t)
	}

	p.transition(t, StateTranscribing)
	p.publish(t, events.TranscriptionStarted{})
	start := time.Now()
	tr, err := resilience.Call(t.ctx, p.guard(resilience.ResourceTranscription), func(ctx context.Context) (*stt.Result, error) {
		return p.providers.Transcriber.Transcribe(ctx, buf)
	})
	if err != nil {
		return p.fail(t, &StageError{Stage: StageTranscription, Err: err}, nil)
	}
	text := strings.TrimSpace(tr.Value.Text)
	if text == "" {
		return p.fail(t, &StageError{Stage: StageTranscription, Err: ErrEmptyTranscript}, nil)
	}
	t.result.Transcript = text
	p.publish(t, events.TranscriptionComplete{Text: text, Latency: time.Since(start)})
	p.logger.Debug("transcribed",
		"turn_id", t.id,
		"chars", len(text),
		"attempts", tr.Attempts,
	)

	p.transition(t, StateGenerating)
	return p.respond(t, text)
}

// ProcessText runs a turn from text, skipping capture and transcription.
func (p *Pipeline) ProcessText(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	t, err := p.begin(ctx, StateGenerating)
	if err != nil {
		return nil, err
	}
	t.result.Transcript = text
	return p.respond(t, text)
}

// opened is a generation stream with its first receive already done.
type opened struct {
	stream inference.Stream
	first  inference.Token
	eof    bool
}

// respond streams a reply to prompt, synthesizing sentences as they form.
func (p *Pipeline) respond(t *turn, prompt string) (*Result, error) {
	req := &inference.Request{
		Prompt:       prompt,
		History:      p.history.Turns(),
		SystemPrompt: p.cfg.SystemPrompt,
		Model:        p.cfg.Model,
		MaxTokens:    p.cfg.MaxTokens,
		Temperature:  p.cfg.Temperature,
	}
	p.publish(t, events.GenerationStarted{Prompt: prompt})

	fan := newFanout(t.ctx, p.providers.Synthesizer, p.guard(resilience.ResourceSynthesis),
		p.cfg.MaxInFlightSynthesis, func(pl events.Payload) { p.publish(t, pl) })

	// Opening the stream and receiving the first token is one guarded
	// attempt, so a stream that dies before producing anything is retried.
	o, err := resilience.Call(fan.ctx, p.guard(resilience.ResourceGeneration), func(ctx context.Context) (opened, error) {
		s, err := p.providers.Generator.Generate(ctx, req)
		if err != nil {
			return opened{}, err
		}
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return opened{stream: s, eof: true}, nil
		}
		if err != nil {
			s.Close()
			return opened{}, err
		}
		return opened{stream: s, first: tok}, nil
	})
	if err != nil {
		return p.fail(t, &StageError{Stage: StageGeneration, Err: err}, fan)
	}
	stream := o.Value.stream
	defer stream.Close()
	stopClose := context.AfterFunc(fan.ctx, func() { stream.Close() })
	defer stopClose()

	ch := chunker.New(p.chunkerOpts...)
	var reply strings.Builder
	tok, eof := o.Value.first, o.Value.eof
	if !eof {
		p.transition(t, StateChunking)
	}
	for !eof {
		p.publish(t, events.TokenReceived{Index: tok.Index, Text: tok.Text})
		reply.WriteString(tok.Text)

		sentences, err := ch.Feed(chunker.Fragment{Index: tok.Index, Text: tok.Text})
		if err != nil {
			return p.fail(t, &StageError{Stage: StageChunking, Err: resilience.WithKind(err, resilience.KindPermanent)}, fan)
		}
		if !p.dispatch(t, fan, sentences...) {
			return p.fail(t, nil, fan)
		}

		tok, err = stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if fan.ctx.Err() != nil {
				// Closed by cancellation or a failed synthesis.
				return p.fail(t, nil, fan)
			}
			return p.fail(t, &StageError{Stage: StageGeneration, Err: err}, fan)
		}
	}
	t.result.Reply = strings.TrimSpace(reply.String())

	if last, ok := ch.Flush(); ok {
		if !p.dispatch(t, fan, last) {
			return p.fail(t, nil, fan)
		}
	}
	if fan.dispatched == 0 {
		return p.fail(t, &StageError{Stage: StageGeneration, Err: ErrEmptyReply}, fan)
	}

	p.transition(t, StateAssembling)
	fan.wait()
	segments, err := fan.close()
	if err == nil && t.ctx.Err() != nil {
		err = p.cancelErr(t)
	}
	if err != nil || !fan.complete(segments) {
		t.result.Segments = segments
		return p.fail(t, err, nil)
	}
	t.result.Segments = segments

	if p.sink != nil {
		for _, seg := range segments {
			if err := p.sink.WriteSegment(t.ctx, seg); err != nil {
				return p.fail(t, &StageError{Stage: StageOutput, Err: err}, nil)
			}
		}
	}

	now := time.Now()
	p.history.Append(
		inference.Turn{Role: inference.RoleUser, Text: prompt, Time: t.start},
		inference.Turn{Role: inference.RoleAssistant, Text: t.result.Reply, Time: now},
	)
	t.result.Outcome = OutcomeComplete
	p.transition(t, StateComplete)
	return p.finish(t)
}
