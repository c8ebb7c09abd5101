// Package metrics exports pipeline activity to Prometheus.
//
// Metrics subscribes to a pipeline's event bus, so the pipeline itself never
// depends on Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// Namespace prefixes every metric name.
const Namespace = "voicestream"

// Stage label values for StageLatency.
const (
	StageTranscription = "transcription"
	StageFirstToken    = "first_token"
	StageGeneration    = "generation"
	StageSynthesis     = "synthesis"
)

// Metrics contains all Prometheus metrics for the voice pipeline
type Metrics struct {
	// Turn metrics
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram
	Truncated    prometheus.Counter

	// Stage metrics
	StageLatency      *prometheus.HistogramVec
	TokensTotal       prometheus.Counter
	SentencesTotal    prometheus.Counter
	SynthesisInFlight prometheus.Gauge
	ErrorsTotal       *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	factory promauto.Factory

	mu    sync.Mutex
	turns map[string]*turnState
}

// turnState tracks what one turn still owes the gauges.
type turnState struct {
	generationStart time.Time
	firstToken      bool
	inFlight        int
}

// New creates and registers all metrics on reg.
// A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		factory: f,
		turns:   make(map[string]*turnState),

		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "turns_total",
			Help:      "Total number of finished turns by outcome",
		}, []string{"outcome"}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		Truncated: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "truncated_turns_total",
			Help:      "Failed turns that still returned synthesized sentences",
		}),

		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stage_latency_seconds",
			Help:      "Latency of pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}, []string{"stage"}),
		TokensTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tokens_total",
			Help:      "Total number of tokens received from the generator",
		}),
		SentencesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sentences_total",
			Help:      "Total number of sentences emitted by the chunker",
		}),
		SynthesisInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "synthesis_in_flight",
			Help:      "Current number of running synthesis calls",
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of failed turns by stage and error kind",
		}, []string{"stage", "kind"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// OnEvent implements events.Observer.
func (m *Metrics) OnEvent(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.turns[e.TurnID]
	if ts == nil {
		ts = &turnState{}
		m.turns[e.TurnID] = ts
	}

	switch p := e.Payload.(type) {
	case events.TranscriptionComplete:
		m.StageLatency.WithLabelValues(StageTranscription).Observe(p.Latency.Seconds())
	case events.GenerationStarted:
		ts.generationStart = e.Time
	case events.TokenReceived:
		m.TokensTotal.Inc()
		if !ts.firstToken && !ts.generationStart.IsZero() {
			ts.firstToken = true
			m.StageLatency.WithLabelValues(StageFirstToken).Observe(e.Time.Sub(ts.generationStart).Seconds())
		}
	case events.SentenceReady:
		m.SentencesTotal.Inc()
	case events.SynthesisStarted:
		ts.inFlight++
		m.SynthesisInFlight.Inc()
	case events.SynthesisComplete:
		ts.inFlight--
		m.SynthesisInFlight.Dec()
		m.StageLatency.WithLabelValues(StageSynthesis).Observe(p.Latency.Seconds())
	case events.ErrorOccurred:
		m.ErrorsTotal.WithLabelValues(p.Stage, p.Kind).Inc()
	case events.TurnComplete:
		// Abandoned syntheses never complete.
		m.SynthesisInFlight.Sub(float64(ts.inFlight))
		if !ts.generationStart.IsZero() {
			m.StageLatency.WithLabelValues(StageGeneration).Observe(e.Time.Sub(ts.generationStart).Seconds())
		}
		m.TurnsTotal.WithLabelValues(p.Outcome).Inc()
		m.TurnDuration.Observe(p.TotalLatency.Seconds())
		if p.Truncated {
			m.Truncated.Inc()
		}
		delete(m.turns, e.TurnID)
	}
}

// RegisterLimiters exports the token count of every bucket in l.
func (m *Metrics) RegisterLimiters(l *resilience.Limiters) {
	for _, name := range l.Names() {
		bucket := l.Get(name)
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "rate_limit_tokens",
			Help:        "Tokens currently available in a rate-limit bucket",
			ConstLabels: prometheus.Labels{"resource": name},
		}, bucket.Tokens)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

var _ events.Observer = (*Metrics)(nil)
