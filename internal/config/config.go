// Package config loads go-voicestream settings.
//
// Settings are layered: built-in defaults, then a named preset, then an
// optional YAML file, then .env and process environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-voicestream/pkg/playback"
	"github.com/teslashibe/go-voicestream/pkg/rtpaudio"
	"github.com/teslashibe/go-voicestream/pkg/voice"
	"github.com/teslashibe/go-voicestream/pkg/web"
)

// Provider names.
const (
	ProviderMock         = "mock"
	ProviderOpenAI       = "openai"
	ProviderGoogle       = "google"
	ProviderGemini       = "gemini"
	ProviderElevenLabs   = "elevenlabs"
	ProviderElevenLabsWS = "elevenlabs_ws"
)

// Supported providers per stage.
var (
	STTProviders = []string{ProviderMock, ProviderOpenAI, ProviderGoogle}
	LLMProviders = []string{ProviderMock, ProviderOpenAI, ProviderGemini}
	TTSProviders = []string{ProviderMock, ProviderOpenAI, ProviderElevenLabs, ProviderElevenLabsWS, ProviderGoogle}
)

// Environment variables read by Load.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvElevenLabsKey = "ELEVENLABS_API_KEY"
	EnvElevenVoiceID = "ELEVENLABS_VOICE_ID"
	EnvGoogleKey     = "GOOGLE_API_KEY"
	EnvGeminiKey     = "GEMINI_API_KEY"
	EnvSTTProvider   = "STT_PROVIDER"
	EnvLLMProvider   = "LLM_PROVIDER"
	EnvTTSProvider   = "TTS_PROVIDER"
	EnvPreset        = "VOICESTREAM_PRESET"
	EnvAddr          = "VOICESTREAM_ADDR"
	EnvTestMode      = "TEST_MODE"
	EnvLogLevel      = "LOG_LEVEL"
	EnvLogFormat     = "LOG_FORMAT"
)

// StageConfig selects the providers for one stage. Providers are tried in
// order; more than one builds a fallback chain.
type StageConfig struct {
	Providers []string `yaml:"providers"`
	Model     string   `yaml:"model,omitempty"`
	Voice     string   `yaml:"voice,omitempty"`
	Language  string   `yaml:"language,omitempty"`
	BaseURL   string   `yaml:"base_url,omitempty"`
}

// Primary returns the first provider, or "".
func (s StageConfig) Primary() string {
	if len(s.Providers) == 0 {
		return ""
	}
	return s.Providers[0]
}

// Keys holds credentials. They are only read from the environment.
type Keys struct {
	OpenAI            string `yaml:"-"`
	ElevenLabs        string `yaml:"-"`
	ElevenLabsVoiceID string `yaml:"-"`
	Google            string `yaml:"-"`
	Gemini            string `yaml:"-"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RTPConfig configures the optional RTP output.
type RTPConfig struct {
	Addr                string `yaml:"addr"`
	rtpaudio.SinkConfig `yaml:",inline"`
}

// Config is the complete application configuration.
type Config struct {
	Preset   string      `yaml:"preset"`
	STT      StageConfig `yaml:"stt"`
	LLM      StageConfig `yaml:"llm"`
	TTS      StageConfig `yaml:"tts"`
	TestMode bool        `yaml:"test_mode"`

	Voice voice.Config `yaml:"voice"`
	Web   web.Config   `yaml:"web"`
	RTP   RTPConfig    `yaml:"rtp"`
	Log   LogConfig    `yaml:"log"`

	// Playback overrides the detected local player.
	Playback playback.Config `yaml:"playback"`

	Keys Keys `yaml:"-"`
}

// Default returns the openai preset with default pipeline settings.
func Default() *Config {
	cfg := &Config{
		Voice: voice.DefaultConfig(),
		Web:   web.DefaultConfig(),
		RTP:   RTPConfig{SinkConfig: rtpaudio.DefaultSinkConfig()},
		Log:   LogConfig{Level: "info"},
	}
	if err := cfg.ApplyPreset(PresetOpenAI); err != nil {
		panic(err)
	}
	return cfg
}

// Load builds a Config. path may be empty to skip the YAML file; a missing
// .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if preset := os.Getenv(EnvPreset); preset != "" {
		if err := cfg.ApplyPreset(preset); err != nil {
			return nil, err
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// decode applies a YAML document. A preset named in the document is applied
// first so explicit stage settings override it.
func (c *Config) decode(data []byte) error {
	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Preset != "" {
		if err := c.ApplyPreset(head.Preset); err != nil {
			return err
		}
	}
	return yaml.Unmarshal(data, c)
}

// ApplyEnv overrides settings from getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	c.Keys = Keys{
		OpenAI:            getenv(EnvOpenAIKey),
		ElevenLabs:        getenv(EnvElevenLabsKey),
		ElevenLabsVoiceID: getenv(EnvElevenVoiceID),
		Google:            getenv(EnvGoogleKey),
		Gemini:            getenv(EnvGeminiKey),
	}
	if c.Keys.Gemini == "" {
		c.Keys.Gemini = c.Keys.Google
	}
	if c.Keys.ElevenLabsVoiceID != "" && c.TTS.Voice == "" && (slices.Contains(c.TTS.Providers, ProviderElevenLabs) || slices.Contains(c.TTS.Providers, ProviderElevenLabsWS)) {
		c.TTS.Voice = c.Keys.ElevenLabsVoiceID
	}

	if v := getenv(EnvSTTProvider); v != "" {
		c.STT.Providers = splitList(v)
	}
	if v := getenv(EnvLLMProvider); v != "" {
		c.LLM.Providers = splitList(v)
	}
	if v := getenv(EnvTTSProvider); v != "" {
		c.TTS.Providers = splitList(v)
	}
	if v := getenv(EnvAddr); v != "" {
		c.Web.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := getenv(EnvTestMode); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.TestMode = on
		} else {
			c.TestMode = strings.EqualFold(v, "yes")
		}
	}
	if c.TestMode {
		c.STT.Providers = []string{ProviderMock}
		c.LLM.Providers = []string{ProviderMock}
		c.TTS.Providers = []string{ProviderMock}
	}
}

// Validate returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateStage("stt", c.STT, STTProviders)...)
	errs = append(errs, c.validateStage("llm", c.LLM, LLMProviders)...)
	errs = append(errs, c.validateStage("tts", c.TTS, TTSProviders)...)

	if err := c.Voice.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Web.Addr == "" {
		errs = append(errs, errors.New("web.addr is required"))
	}
	if c.RTP.Addr != "" && c.RTP.Channels != 1 && c.RTP.Channels != 2 {
		errs = append(errs, fmt.Errorf("rtp.channels must be 1 or 2, got %d", c.RTP.Channels))
	}
	return errors.Join(errs...)
}

func (c *Config) validateStage(stage string, s StageConfig, supported []string) []error {
	if len(s.Providers) == 0 {
		return []error{fmt.Errorf("%s: at least one provider is required", stage)}
	}
	var errs []error
	for _, p := range s.Providers {
		if !slices.Contains(supported, p) {
			errs = append(errs, fmt.Errorf("%s: unknown provider %q (supported: %s)", stage, p, strings.Join(supported, ", ")))
			continue
		}
		if env := c.missingKey(p); env != "" {
			errs = append(errs, fmt.Errorf("%s: %s required for %s", stage, env, p))
		}
	}
	if stage == "tts" && (slices.Contains(s.Providers, ProviderElevenLabs) || slices.Contains(s.Providers, ProviderElevenLabsWS)) {
		if s.Voice == "" && c.Keys.ElevenLabsVoiceID == "" {
			errs = append(errs, fmt.Errorf("tts: %s or tts.voice required for elevenlabs", EnvElevenVoiceID))
		}
	}
	return errs
}

// missingKey names the environment variable a provider needs, or "" when
// its credentials are present. Google falls back to Application Default
// Credentials and never needs a key.
func (c *Config) missingKey(provider string) string {
	switch provider {
	case ProviderOpenAI:
		if c.Keys.OpenAI == "" {
			return EnvOpenAIKey
		}
	case ProviderElevenLabs, ProviderElevenLabsWS:
		if c.Keys.ElevenLabs == "" {
			return EnvElevenLabsKey
		}
	case ProviderGemini:
		if c.Keys.Gemini == "" {
			return EnvGeminiKey
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
