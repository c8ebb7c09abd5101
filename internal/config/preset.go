package config

import (
	"fmt"
	"sort"
)

// Preset names.
const (
	PresetMock     = "mock"
	PresetOpenAI   = "openai"
	PresetGoogle   = "google"
	PresetBalanced = "balanced"
	PresetFast     = "fast"
)

type preset struct {
	stt, llm, tts []string
}

var presets = map[string]preset{
	// Offline; no credentials.
	PresetMock: {
		stt: []string{ProviderMock},
		llm: []string{ProviderMock},
		tts: []string{ProviderMock},
	},
	PresetOpenAI: {
		stt: []string{ProviderOpenAI},
		llm: []string{ProviderOpenAI},
		tts: []string{ProviderOpenAI},
	},
	PresetGoogle: {
		stt: []string{ProviderGoogle},
		llm: []string{ProviderGemini},
		tts: []string{ProviderGoogle},
	},
	// Every stage falls back to a second vendor.
	PresetBalanced: {
		stt: []string{ProviderOpenAI, ProviderGoogle},
		llm: []string{ProviderOpenAI, ProviderGemini},
		tts: []string{ProviderElevenLabs, ProviderOpenAI},
	},
	// Lowest time to first audio: streaming ElevenLabs synthesis.
	PresetFast: {
		stt: []string{ProviderOpenAI},
		llm: []string{ProviderOpenAI},
		tts: []string{ProviderElevenLabsWS},
	},
}

// Presets returns the preset names, sorted.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset replaces the provider lists of every stage. Models, voices
// and other stage settings are kept.
func (c *Config) ApplyPreset(name string) error {
	p, ok := presets[name]
	if !ok {
		return fmt.Errorf("config: unknown preset %q (available: %v)", name, Presets())
	}
	c.Preset = name
	c.STT.Providers = append([]string(nil), p.stt...)
	c.LLM.Providers = append([]string(nil), p.llm...)
	c.TTS.Providers = append([]string(nil), p.tts...)
	return nil
}
