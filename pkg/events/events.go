// Package events records what happens during a voice turn.
//
// Every pipeline stage publishes typed events to a Bus. The bus keeps an
// ordered, append-only log and notifies observers synchronously, so a test
// can assert on the exact sequence and a metrics exporter can derive
// latencies without touching pipeline internals.
package events

import (
	"time"
)

// Type identifies an event payload.
type Type string

const (
	TypeCaptureStarted        Type = "capture_started"
	TypeCaptureComplete       Type = "capture_complete"
	TypeTranscriptionStarted  Type = "transcription_started"
	TypeTranscriptionComplete Type = "transcription_complete"
	TypeGenerationStarted     Type = "generation_started"
	TypeTokenReceived         Type = "token_received"
	TypeSentenceReady         Type = "sentence_ready"
	TypeSynthesisStarted      Type = "synthesis_started"
	TypeSynthesisComplete     Type = "synthesis_complete"
	TypeTurnComplete          Type = "turn_complete"
	TypeErrorOccurred         Type = "error_occurred"
)

// Payload is the type-specific body of an event.
type Payload interface {
	EventType() Type
}

// Event is one entry in the bus log.
type Event struct {
	Seq     uint64
	Time    time.Time
	TurnID  string
	Payload Payload
}

// Type returns the payload type.
func (e Event) Type() Type {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

type CaptureStarted struct{}

type CaptureComplete struct {
	Duration time.Duration `msgpack:"duration" json:"duration"`
	Silence  bool          `msgpack:"silence" json:"silence"`
}

type TranscriptionStarted struct{}

type TranscriptionComplete struct {
	Text    string        `msgpack:"text" json:"text"`
	Latency time.Duration `msgpack:"latency" json:"latency"`
}

type GenerationStarted struct {
	Prompt string `msgpack:"prompt" json:"prompt"`
}

type TokenReceived struct {
	Index int    `msgpack:"index" json:"index"`
	Text  string `msgpack:"text" json:"text"`
}

type SentenceReady struct {
	Ordinal int    `msgpack:"ordinal" json:"ordinal"`
	Text    string `msgpack:"text" json:"text"`
}

type SynthesisStarted struct {
	Ordinal int `msgpack:"ordinal" json:"ordinal"`
}

type SynthesisComplete struct {
	Ordinal int           `msgpack:"ordinal" json:"ordinal"`
	Latency time.Duration `msgpack:"latency" json:"latency"`
}

// TurnComplete closes every turn, successful or not.
type TurnComplete struct {
	TotalLatency time.Duration `msgpack:"total_latency" json:"total_latency"`
	Truncated    bool          `msgpack:"truncated" json:"truncated"`
	Outcome      string        `msgpack:"outcome" json:"outcome"`
}

// ErrorOccurred reports a failed stage. Kind is a resilience error kind.
type ErrorOccurred struct {
	Stage   string `msgpack:"stage" json:"stage"`
	Kind    string `msgpack:"kind" json:"kind"`
	Message string `msgpack:"message" json:"message"`
}

func (CaptureStarted) EventType() Type        { return TypeCaptureStarted }
func (CaptureComplete) EventType() Type       { return TypeCaptureComplete }
func (TranscriptionStarted) EventType() Type  { return TypeTranscriptionStarted }
func (TranscriptionComplete) EventType() Type { return TypeTranscriptionComplete }
func (GenerationStarted) EventType() Type     { return TypeGenerationStarted }
func (TokenReceived) EventType() Type         { return TypeTokenReceived }
func (SentenceReady) EventType() Type         { return TypeSentenceReady }
func (SynthesisStarted) EventType() Type      { return TypeSynthesisStarted }
func (SynthesisComplete) EventType() Type     { return TypeSynthesisComplete }
func (TurnComplete) EventType() Type          { return TypeTurnComplete }
func (ErrorOccurred) EventType() Type         { return TypeErrorOccurred }

// newPayload returns a pointer to an empty payload of type t, for decoding.
func newPayload(t Type) (Payload, bool) {
	switch t {
	case TypeCaptureStarted:
		return &CaptureStarted{}, true
	case TypeCaptureComplete:
		return &CaptureComplete{}, true
	case TypeTranscriptionStarted:
		return &TranscriptionStarted{}, true
	case TypeTranscriptionComplete:
		return &TranscriptionComplete{}, true
	case TypeGenerationStarted:
		return &GenerationStarted{}, true
	case TypeTokenReceived:
		return &TokenReceived{}, true
	case TypeSentenceReady:
		return &SentenceReady{}, true
	case TypeSynthesisStarted:
		return &SynthesisStarted{}, true
	case TypeSynthesisComplete:
		return &SynthesisComplete{}, true
	case TypeTurnComplete:
		return &TurnComplete{}, true
	case TypeErrorOccurred:
		return &ErrorOccurred{}, true
	}
	return nil, false
}

// deref turns the pointer from newPayload back into the value form the
// bus publishes.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *CaptureStarted:
		return *v
	case *CaptureComplete:
		return *v
	case *TranscriptionStarted:
		return *v
	case *TranscriptionComplete:
		return *v
	case *GenerationStarted:
		return *v
	case *TokenReceived:
		return *v
	case *SentenceReady:
		return *v
	case *SynthesisStarted:
		return *v
	case *SynthesisComplete:
		return *v
	case *TurnComplete:
		return *v
	case *ErrorOccurred:
		return *v
	}
	return p
}
