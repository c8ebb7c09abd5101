package scenario

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/inference"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
	"github.com/teslashibe/go-voicestream/pkg/tts"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func mockGenerator() *inference.Mock {
	g := inference.NewMock(inference.DefaultMockResponse)
	g.TokenDelay = 0
	g.Rules = MockRules()
	return g
}

func newPipeline(t *testing.T, g inference.Generator) *voice.Pipeline {
	t.Helper()
	p, err := voice.New(voice.DefaultConfig().WithoutRateLimits(), voice.Providers{
		Generator:   g,
		Synthesizer: &tts.Mock{SynthesizeFunc: tts.SilenceFunc(0, 50*time.Millisecond)},
	},
		voice.WithLogger(quietLogger),
		voice.WithPolicy(resilience.Policy{
			MaxAttempts: 1,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		}),
	)
	if err != nil {
		t.Fatalf("voice.New() error: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSet(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"standard", len(Standard()), false},
		{"latency", len(Latency()), false},
		{"edge", len(EdgeCases()), false},
		{"all", len(Standard()) + len(Latency()) + len(EdgeCases()), false},
		{"missing", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Set(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
			for _, s := range got {
				if err := s.Validate(); err != nil {
					t.Errorf("%q: Validate() error = %v", s.Name, err)
				}
			}
		})
	}

	if got := Sets(); strings.Join(got, ",") != "all,edge,latency,standard" {
		t.Errorf("Sets() = %v", got)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Scenario
		wantErr string
	}{
		{
			name: "valid",
			input: `
- name: greeting
  input: Hello
  expect_contains: hello
  max_latency: 1500ms
- name: blank
  input: ""
  expect_error: true
`,
			want: []Scenario{
				{Name: "greeting", Input: "Hello", ExpectContains: "hello", MaxLatency: 1500 * time.Millisecond},
				{Name: "blank", ExpectError: true},
			},
		},
		{name: "empty file", input: "", wantErr: "no scenarios"},
		{name: "not a list", input: "name: x", wantErr: "parse"},
		{
			name:    "missing name",
			input:   "- input: hi\n",
			wantErr: "name is required",
		},
		{
			name:    "negative latency",
			input:   "- name: x\n  input: hi\n  max_latency: -1s\n",
			wantErr: "max_latency",
		},
		{
			name:    "conflicting expectations",
			input:   "- name: x\n  input: hi\n  expect_contains: a\n  expect_error: true\n",
			wantErr: "expect_contains",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRunAll_BuiltInSetsPassWithMockRules(t *testing.T) {
	all, err := Set("all")
	if err != nil {
		t.Fatal(err)
	}
	g := mockGenerator()
	r := NewRunner(newPipeline(t, g), quietLogger)

	rep := r.RunAll(context.Background(), all)
	if len(rep.Outcomes) != len(all) {
		t.Fatalf("outcomes = %d, want %d", len(rep.Outcomes), len(all))
	}
	for _, o := range rep.Outcomes {
		if !o.Passed {
			t.Errorf("%q failed: %v (reply %q)", o.Scenario.Name, o.Failures, o.Reply)
		}
	}
	if !rep.OK() || rep.Passed() != len(all) || rep.Failed() != 0 {
		t.Errorf("report passed=%d failed=%d", rep.Passed(), rep.Failed())
	}

	// Each scenario starts from an empty conversation.
	for i, req := range g.Requests() {
		if len(req.History) != 0 {
			t.Errorf("request %d carried %d history turns", i, len(req.History))
		}
	}
}

func TestRun_RecordsLatency(t *testing.T) {
	r := NewRunner(newPipeline(t, mockGenerator()), quietLogger)

	o := r.Run(context.Background(), Standard()[1])
	if !o.Passed {
		t.Fatalf("failures: %v", o.Failures)
	}
	if o.TurnID == "" {
		t.Error("TurnID is empty")
	}
	if o.Reply != "2 plus 2 is 4." {
		t.Errorf("Reply = %q", o.Reply)
	}
	if o.Latency <= 0 {
		t.Errorf("Latency = %v, want > 0", o.Latency)
	}
	if _, ok := o.Stages[events.StageFirstToken]; !ok {
		t.Errorf("Stages = %v, want %s", o.Stages, events.StageFirstToken)
	}
}

func TestRun_Failures(t *testing.T) {
	boom := errors.New("backend down")

	tests := []struct {
		name     string
		gen      func() inference.Generator
		scenario Scenario
		want     string
	}{
		{
			name:     "reply mismatch",
			gen:      func() inference.Generator { return mockGenerator() },
			scenario: Scenario{Name: "x", Input: "Hello", ExpectContains: "goodbye"},
			want:     `does not contain "goodbye"`,
		},
		{
			name: "latency budget",
			gen: func() inference.Generator {
				g := mockGenerator()
				g.TokenDelay = 5 * time.Millisecond
				return g
			},
			scenario: Scenario{Name: "x", Input: "Hello", MaxLatency: time.Millisecond},
			want:     "exceeds",
		},
		{
			name: "generator error",
			gen: func() inference.Generator {
				g := mockGenerator()
				g.GenerateFunc = func(context.Context, *inference.Request) (inference.Stream, error) {
					return nil, boom
				}
				return g
			},
			scenario: Scenario{Name: "x", Input: "Hello"},
			want:     "backend down",
		},
		{
			name:     "expected error did not happen",
			gen:      func() inference.Generator { return mockGenerator() },
			scenario: Scenario{Name: "x", Input: "Hello", ExpectError: true},
			want:     "expected an error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(newPipeline(t, tt.gen()), quietLogger)
			o := r.Run(context.Background(), tt.scenario)
			if o.Passed {
				t.Fatal("Passed = true, want false")
			}
			if !strings.Contains(strings.Join(o.Failures, "; "), tt.want) {
				t.Errorf("Failures = %v, want containing %q", o.Failures, tt.want)
			}
		})
	}
}

func TestRunAll_StopsOnCancel(t *testing.T) {
	r := NewRunner(newPipeline(t, mockGenerator()), quietLogger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := r.RunAll(ctx, Standard())
	if len(rep.Outcomes) != 0 {
		t.Errorf("outcomes = %d, want 0", len(rep.Outcomes))
	}
	if !rep.OK() {
		t.Error("empty report should be OK")
	}
}
