package voice

import (
	"sync"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/events"
)

// Metrics tracks latency at each stage of one turn.
// All durations are measured from the turn's reference point: the end of
// capture for audio turns, the start of generation for text turns.
type Metrics struct {
	TurnID  string
	Outcome string

	// Timestamps for key events
	SpeechEndTime    time.Time // Capture normalized, or generation started for text turns
	TranscriptTime   time.Time // Transcription completed
	FirstTokenTime   time.Time // First token received
	FirstAudioTime   time.Time // First sentence synthesized
	ResponseDoneTime time.Time // Turn complete

	// Computed latencies (from the reference point)
	ASRLatency    time.Duration
	LLMFirstToken time.Duration
	TTSFirstAudio time.Duration
	TotalLatency  time.Duration

	// Counts for this conversation turn
	TokensGenerated int
	Sentences       int
	AudioSegments   int
	Errors          int
}

// MetricsCollector derives per-turn latency metrics from pipeline events.
// Every Pipeline owns one; it can also be subscribed to a bus directly.
// It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Metrics // Recent turns for averaging

	onUpdate func(Metrics)
}

// maxMetricsHistory bounds the turns kept for averaging.
const maxMetricsHistory = 100

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, maxMetricsHistory),
	}
}

// OnUpdate sets a callback that fires when a turn completes.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// OnEvent implements events.Observer.
func (m *MetricsCollector) OnEvent(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.TurnID != m.current.TurnID {
		m.current = Metrics{TurnID: e.TurnID}
	}
	cur := &m.current

	switch p := e.Payload.(type) {
	case events.CaptureComplete:
		cur.SpeechEndTime = e.Time
	case events.TranscriptionComplete:
		cur.TranscriptTime = e.Time
		cur.ASRLatency = since(cur.SpeechEndTime, e.Time)
	case events.GenerationStarted:
		if cur.SpeechEndTime.IsZero() {
			cur.SpeechEndTime = e.Time
		}
	case events.TokenReceived:
		cur.TokensGenerated++
		if cur.FirstTokenTime.IsZero() {
			cur.FirstTokenTime = e.Time
			cur.LLMFirstToken = since(cur.SpeechEndTime, e.Time)
		}
	case events.SentenceReady:
		cur.Sentences++
	case events.SynthesisComplete:
		cur.AudioSegments++
		if cur.FirstAudioTime.IsZero() {
			cur.FirstAudioTime = e.Time
			cur.TTSFirstAudio = since(cur.SpeechEndTime, e.Time)
		}
	case events.ErrorOccurred:
		cur.Errors++
	case events.TurnComplete:
		cur.ResponseDoneTime = e.Time
		cur.TotalLatency = p.TotalLatency
		cur.Outcome = p.Outcome
		m.archive()
	}
}

func since(ref, t time.Time) time.Duration {
	if ref.IsZero() {
		return 0
	}
	return t.Sub(ref)
}

// archive stores the current turn. Must be called with mutex held.
func (m *MetricsCollector) archive() {
	m.history = append(m.history, m.current)
	if len(m.history) > maxMetricsHistory {
		m.history = m.history[1:]
	}
	m.notify()
}

// Current returns the metrics of the latest turn, finished or not.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Turns returns the number of archived turns.
func (m *MetricsCollector) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Average returns average latencies over recent turns. Stages a turn did
// not reach are left out of that stage's average.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	var asr, llm, tts int
	for _, h := range m.history {
		if h.ASRLatency > 0 {
			avg.ASRLatency += h.ASRLatency
			asr++
		}
		if h.LLMFirstToken > 0 {
			avg.LLMFirstToken += h.LLMFirstToken
			llm++
		}
		if h.TTSFirstAudio > 0 {
			avg.TTSFirstAudio += h.TTSFirstAudio
			tts++
		}
		avg.TotalLatency += h.TotalLatency
	}

	avg.ASRLatency = divide(avg.ASRLatency, asr)
	avg.LLMFirstToken = divide(avg.LLMFirstToken, llm)
	avg.TTSFirstAudio = divide(avg.TTSFirstAudio, tts)
	avg.TotalLatency = divide(avg.TotalLatency, len(m.history))

	return avg
}

func divide(d time.Duration, n int) time.Duration {
	if n == 0 {
		return 0
	}
	return d / time.Duration(n)
}

// notify calls the update callback if set.
// Must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		// Copy to avoid races
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// FormatLatency returns a formatted string of the latencies.
func (m Metrics) FormatLatency() string {
	return formatDuration(m.ASRLatency) + " ASR | " +
		formatDuration(m.LLMFirstToken) + " LLM | " +
		formatDuration(m.TTSFirstAudio) + " TTS | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}

var _ events.Observer = (*MetricsCollector)(nil)
