package voice

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/stt"
	"github.com/teslashibe/go-voicestream/pkg/tts"
)

func TestMetricsCollector(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	mc := NewMetricsCollector()
	feed := []events.Event{
		{TurnID: "t1", Time: at(0), Payload: events.CaptureStarted{}},
		{TurnID: "t1", Time: at(10), Payload: events.CaptureComplete{Duration: time.Second}},
		{TurnID: "t1", Time: at(210), Payload: events.TranscriptionComplete{Text: "hi", Latency: 200 * time.Millisecond}},
		{TurnID: "t1", Time: at(220), Payload: events.GenerationStarted{Prompt: "hi"}},
		{TurnID: "t1", Time: at(410), Payload: events.TokenReceived{Index: 0, Text: "Hello"}},
		{TurnID: "t1", Time: at(420), Payload: events.TokenReceived{Index: 1, Text: "."}},
		{TurnID: "t1", Time: at(430), Payload: events.SentenceReady{Ordinal: 0, Text: "Hello."}},
		{TurnID: "t1", Time: at(610), Payload: events.SynthesisComplete{Ordinal: 0, Latency: 180 * time.Millisecond}},
		{TurnID: "t1", Time: at(700), Payload: events.TurnComplete{TotalLatency: 700 * time.Millisecond, Outcome: "complete"}},
	}
	for _, e := range feed {
		mc.OnEvent(e)
	}

	m := mc.Current()
	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"asr", m.ASRLatency, 200 * time.Millisecond},
		{"first token", m.LLMFirstToken, 400 * time.Millisecond},
		{"first audio", m.TTSFirstAudio, 600 * time.Millisecond},
		{"total", m.TotalLatency, 700 * time.Millisecond},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if m.TokensGenerated != 2 || m.Sentences != 1 || m.AudioSegments != 1 {
		t.Errorf("counts = %d tokens, %d sentences, %d segments", m.TokensGenerated, m.Sentences, m.AudioSegments)
	}
	if m.Outcome != "complete" {
		t.Errorf("outcome = %q", m.Outcome)
	}

	t.Run("text turn uses generation start", func(t *testing.T) {
		mc.OnEvent(events.Event{TurnID: "t2", Time: at(1000), Payload: events.GenerationStarted{Prompt: "x"}})
		mc.OnEvent(events.Event{TurnID: "t2", Time: at(1100), Payload: events.TokenReceived{Text: "Ok"}})
		mc.OnEvent(events.Event{TurnID: "t2", Time: at(1300), Payload: events.TurnComplete{TotalLatency: 300 * time.Millisecond}})

		m := mc.Current()
		if m.TurnID != "t2" || m.LLMFirstToken != 100*time.Millisecond {
			t.Errorf("turn %s first token %v", m.TurnID, m.LLMFirstToken)
		}
		if m.ASRLatency != 0 {
			t.Errorf("text turn should have no ASR latency, got %v", m.ASRLatency)
		}
	})

	t.Run("average skips missing stages", func(t *testing.T) {
		avg := mc.Average()
		if avg.ASRLatency != 200*time.Millisecond {
			t.Errorf("avg asr = %v", avg.ASRLatency)
		}
		if avg.LLMFirstToken != 250*time.Millisecond {
			t.Errorf("avg first token = %v", avg.LLMFirstToken)
		}
		if avg.TotalLatency != 500*time.Millisecond {
			t.Errorf("avg total = %v", avg.TotalLatency)
		}
		if mc.Turns() != 2 {
			t.Errorf("turns = %d", mc.Turns())
		}
	})
}

func TestMetricsCollector_OnUpdate(t *testing.T) {
	mc := NewMetricsCollector()
	updates := make(chan Metrics, 1)
	mc.OnUpdate(func(m Metrics) { updates <- m })

	p := newTestPipeline(t, Providers{
		Transcriber: stt.NewMock("hello"),
		Generator:   fastGenerator("Hi there."),
		Synthesizer: tts.NewMock(),
	})
	p.Bus().Subscribe(mc)

	res, err := p.ProcessAudio(context.Background(), audioio.Sine(440, 0.5, 16000, 300*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-updates:
		if m.TurnID != res.TurnID {
			t.Errorf("update for turn %q, want %q", m.TurnID, res.TurnID)
		}
		if m.AudioSegments != 1 || m.Outcome != string(OutcomeComplete) {
			t.Errorf("metrics = %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("no metrics update")
	}
}

func TestFormatLatency(t *testing.T) {
	m := Metrics{LLMFirstToken: 123 * time.Millisecond, TotalLatency: 2 * time.Second}
	got := m.FormatLatency()
	for _, want := range []string{"---ms ASR", "123ms LLM", "2s TOTAL"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatLatency() = %q, missing %q", got, want)
		}
	}
}
