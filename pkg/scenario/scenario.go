// Package scenario runs scripted text turns against a pipeline and checks
// the replies and latencies.
//
// A scenario names an input, an optional substring the reply must contain
// and an optional latency budget for the whole turn:
//
//	r := scenario.NewRunner(p, logger)
//	report := r.RunAll(ctx, scenario.Standard())
//	if !report.OK() {
//		...
//	}
//
// With a mock generator, MockRules supplies canned replies that satisfy
// the built-in sets.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-voicestream/pkg/inference"
)

// Scenario is one scripted turn.
type Scenario struct {
	Name  string `yaml:"name" json:"name"`
	Input string `yaml:"input" json:"input"`

	// ExpectContains must appear in the reply, ignoring case.
	ExpectContains string `yaml:"expect_contains" json:"expect_contains,omitempty"`

	// MaxLatency bounds the turn's total latency. Zero disables the check.
	MaxLatency time.Duration `yaml:"max_latency" json:"max_latency,omitempty"`

	// ExpectError passes when the pipeline rejects the input or the turn
	// fails.
	ExpectError bool `yaml:"expect_error" json:"expect_error,omitempty"`
}

// Validate checks that the scenario can run.
func (s Scenario) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.MaxLatency < 0 {
		errs = append(errs, fmt.Errorf("max_latency must not be negative, got %v", s.MaxLatency))
	}
	if s.ExpectError && s.ExpectContains != "" {
		errs = append(errs, errors.New("expect_contains cannot be combined with expect_error"))
	}
	return errors.Join(errs...)
}

// Standard covers greetings, short answers, multi-sentence replies and long
// questions.
func Standard() []Scenario {
	return []Scenario{
		{Name: "Basic greeting", Input: "Hello there", ExpectContains: "hello", MaxLatency: 2 * time.Second},
		{Name: "Short question", Input: "What is 2 plus 2?", ExpectContains: "4", MaxLatency: 2 * time.Second},
		{Name: "Multi-sentence reply", Input: "Tell me about yourself in detail", ExpectContains: "assistant", MaxLatency: 3 * time.Second},
		{
			Name:           "Long question",
			Input:          "Can you explain how streaming works in voice assistants and why it's better than waiting for the full response?",
			ExpectContains: "streaming",
			MaxLatency:     4 * time.Second,
		},
	}
}

// Latency holds short prompts with tight budgets.
func Latency() []Scenario {
	return []Scenario{
		{Name: "Sub-second reply", Input: "Hi", MaxLatency: time.Second},
		{Name: "Sub-2s query", Input: "What's the weather like?", MaxLatency: 2 * time.Second},
	}
}

// EdgeCases exercises unusual input.
func EdgeCases() []Scenario {
	return []Scenario{
		{Name: "Very long input", Input: "Tell me about " + strings.Repeat("artificial intelligence ", 50), MaxLatency: 5 * time.Second},
		{Name: "Special characters", Input: "What is 1 + 1? !@#$%^&*()", ExpectContains: "2", MaxLatency: 2 * time.Second},
		{Name: "Numbers only", Input: "123 456 789", MaxLatency: 2 * time.Second},
		{Name: "Empty input", Input: "   ", ExpectError: true},
	}
}

var sets = map[string]func() []Scenario{
	"standard": Standard,
	"latency":  Latency,
	"edge":     EdgeCases,
}

// Sets returns the names of the built-in sets plus "all", sorted.
func Sets() []string {
	names := make([]string, 0, len(sets)+1)
	for name := range sets {
		names = append(names, name)
	}
	names = append(names, "all")
	sort.Strings(names)
	return names
}

// Set returns a built-in set by name. "all" concatenates every set.
func Set(name string) ([]Scenario, error) {
	if name == "all" {
		var out []Scenario
		for _, n := range []string{"standard", "latency", "edge"} {
			out = append(out, sets[n]()...)
		}
		return out, nil
	}
	fn, ok := sets[name]
	if !ok {
		return nil, fmt.Errorf("scenario: unknown set %q (available: %v)", name, Sets())
	}
	return fn(), nil
}

// Load reads a YAML list of scenarios.
func Load(r io.Reader) ([]Scenario, error) {
	var out []Scenario
	if err := yaml.NewDecoder(r).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("scenario: file has no scenarios")
		}
		return nil, fmt.Errorf("scenario: parse: %w", err)
	}
	var errs []error
	for i, s := range out {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scenario %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// MockRules are canned replies that satisfy the built-in sets.
func MockRules() []inference.Rule {
	return []inference.Rule{
		{Contains: "hello", Response: "Hello! It's good to hear from you."},
		{Contains: "2 plus 2", Response: "2 plus 2 is 4."},
		{Contains: "1 + 1", Response: "1 plus 1 is 2."},
		{Contains: "yourself", Response: "I'm a voice assistant. I listen, think and answer out loud. Each sentence is spoken as soon as it is ready."},
		{Contains: "streaming", Response: "With streaming, speech starts with the first sentence. You don't wait for the whole reply, so answers feel immediate."},
	}
}
