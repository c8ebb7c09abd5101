package voice

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-voicestream/pkg/audioio"
	"github.com/teslashibe/go-voicestream/pkg/resilience"
)

// DefaultMaxInFlightSynthesis bounds concurrent synthesis calls per turn.
const DefaultMaxInFlightSynthesis = 4

// DefaultEventRetention is the number of turns whose events stay on a
// pipeline's own bus.
const DefaultEventRetention = 50

// Config holds all tunable parameters for a voice pipeline.
// Parameters are organized by stage.
type Config struct {
	// Conversation
	HistoryLimit int    `yaml:"history_limit" json:"history_limit"` // Turns kept between replies (default: 10)
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"` // Overrides the generator's prompt when set

	// Event log
	EventRetention int `yaml:"event_retention" json:"event_retention"` // Turns kept on the bus (default: 50, 0 keeps all)

	// Audio capture
	Audio audioio.NormalizerConfig `yaml:"audio" json:"audio"`

	// Generation overrides; zero values defer to the generator's defaults.
	Model       string  `yaml:"model" json:"model"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// Chunking and synthesis
	MinSentenceLength    int `yaml:"min_sentence_length" json:"min_sentence_length"`         // Merge shorter sentences (default: 0, off)
	MaxInFlightSynthesis int `yaml:"max_in_flight_synthesis" json:"max_in_flight_synthesis"` // Concurrent synthesis calls (default: 4)

	// Provider calls
	Retry          RetryConfig                 `yaml:"retry" json:"retry"`
	RateLimits     map[string]resilience.Limit `yaml:"rate_limits" json:"rate_limits"` // Keyed by resource name
	AcquireTimeout time.Duration               `yaml:"acquire_timeout" json:"acquire_timeout"`
}

// RetryConfig is the serializable form of resilience.Policy.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay"`
	JitterFraction float64       `yaml:"jitter_fraction" json:"jitter_fraction"`
}

// Policy converts the config to a retry policy.
func (r RetryConfig) Policy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts:    r.MaxAttempts,
		BaseDelay:      r.BaseDelay,
		MaxDelay:       r.MaxDelay,
		JitterFraction: r.JitterFraction,
	}
}

// DefaultRateLimits returns one bucket per external resource.
// Transcription follows Whisper's 50 requests per minute.
func DefaultRateLimits() map[string]resilience.Limit {
	return map[string]resilience.Limit{
		resilience.ResourceTranscription: {Capacity: 5, RefillPerSecond: 50.0 / 60.0},
		resilience.ResourceGeneration:    {Capacity: 10, RefillPerSecond: 1},
		resilience.ResourceSynthesis:     {Capacity: 20, RefillPerSecond: 5},
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	p := resilience.DefaultPolicy()
	return Config{
		HistoryLimit:   DefaultHistoryLimit,
		EventRetention: DefaultEventRetention,

		Audio: audioio.DefaultNormalizerConfig(),

		MaxInFlightSynthesis: DefaultMaxInFlightSynthesis,

		Retry: RetryConfig{
			MaxAttempts:    p.MaxAttempts,
			BaseDelay:      p.BaseDelay,
			MaxDelay:       p.MaxDelay,
			JitterFraction: p.JitterFraction,
		},
		RateLimits:     DefaultRateLimits(),
		AcquireTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration for errors. All problems are reported.
func (c *Config) Validate() error {
	var errs []error
	if c.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("voice: history_limit must be at least 1, got %d", c.HistoryLimit))
	}
	if c.EventRetention < 0 {
		errs = append(errs, fmt.Errorf("voice: event_retention must not be negative, got %d", c.EventRetention))
	}
	if c.MaxInFlightSynthesis < 1 {
		errs = append(errs, fmt.Errorf("voice: max_in_flight_synthesis must be at least 1, got %d", c.MaxInFlightSynthesis))
	}
	if c.MinSentenceLength < 0 {
		errs = append(errs, fmt.Errorf("voice: min_sentence_length must not be negative, got %d", c.MinSentenceLength))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("voice: temperature must be between 0 and 2"))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("voice: max_tokens must not be negative, got %d", c.MaxTokens))
	}
	if err := c.Audio.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("voice: audio: %w", err))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("voice: retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("voice: retry delays must satisfy 0 <= base_delay <= max_delay"))
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		errs = append(errs, errors.New("voice: retry.jitter_fraction must be between 0 and 1"))
	}
	for name, lim := range c.RateLimits {
		if err := lim.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("voice: rate_limits.%s: %w", name, err))
		}
	}
	if c.AcquireTimeout < 0 {
		errs = append(errs, errors.New("voice: acquire_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// WithSystemPrompt returns a copy with the system prompt set.
func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

// WithHistoryLimit returns a copy with the history bound set.
func (c Config) WithHistoryLimit(n int) Config {
	c.HistoryLimit = n
	return c
}

// WithMaxInFlightSynthesis returns a copy with the synthesis fan-out bound set.
func (c Config) WithMaxInFlightSynthesis(n int) Config {
	c.MaxInFlightSynthesis = n
	return c
}

// WithRetry returns a copy with the retry settings replaced.
func (c Config) WithRetry(r RetryConfig) Config {
	c.Retry = r
	return c
}

// WithoutRateLimits returns a copy with no rate limits.
func (c Config) WithoutRateLimits() Config {
	c.RateLimits = nil
	return c
}
