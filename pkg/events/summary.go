package events

import (
	"sort"
	"time"
)

// Latency breakdown keys.
const (
	StageTranscription  = "stt"
	StageFirstToken     = "llm_first_token"
	StageGeneration     = "llm_total"
	StageFirstAudio     = "tts_first_audio"
	StageSynthesisTotal = "tts_total"
	StageTurn           = "turn_total"
)

// LatencyBreakdown derives per-stage latencies from one turn's events.
// Stages that did not happen are absent.
func LatencyBreakdown(evs []Event) map[string]time.Duration {
	out := make(map[string]time.Duration)
	var (
		genStart, lastToken, firstSynthDone time.Time
		firstToken                          bool
		synthTotal                          time.Duration
	)
	for _, e := range evs {
		switch p := e.Payload.(type) {
		case TranscriptionComplete:
			out[StageTranscription] = p.Latency
		case GenerationStarted:
			genStart = e.Time
		case TokenReceived:
			if !firstToken && !genStart.IsZero() {
				out[StageFirstToken] = e.Time.Sub(genStart)
				firstToken = true
			}
			lastToken = e.Time
		case SynthesisComplete:
			synthTotal += p.Latency
			if firstSynthDone.IsZero() {
				firstSynthDone = e.Time
				if !genStart.IsZero() {
					out[StageFirstAudio] = e.Time.Sub(genStart)
				}
			}
		case TurnComplete:
			out[StageTurn] = p.TotalLatency
		}
	}
	if !genStart.IsZero() && !lastToken.IsZero() {
		out[StageGeneration] = lastToken.Sub(genStart)
	}
	if synthTotal > 0 {
		out[StageSynthesisTotal] = synthTotal
	}
	return out
}

// Summary counts events by type.
type Summary struct {
	Total  int
	Counts map[Type]int
	Errors []ErrorOccurred
}

// Summarize builds a Summary.
func Summarize(evs []Event) Summary {
	s := Summary{Total: len(evs), Counts: make(map[Type]int)}
	for _, e := range evs {
		s.Counts[e.Type()]++
		if eo, ok := e.Payload.(ErrorOccurred); ok {
			s.Errors = append(s.Errors, eo)
		}
	}
	return s
}

// Types returns the counted types in a stable order.
func (s Summary) Types() []Type {
	types := make([]Type, 0, len(s.Counts))
	for t := range s.Counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
