// Package commands implements the voicestream CLI.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicestream/internal/config"
	"github.com/teslashibe/go-voicestream/internal/log"
	"github.com/teslashibe/go-voicestream/internal/providers"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

var (
	configFile string
	presetName string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "voicestream",
	Short: "Low-latency streaming voice pipeline",
	Long: `voicestream turns speech or text into a spoken reply.

Each turn transcribes the input, streams a reply from the language model,
cuts it into sentences and synthesizes them concurrently, so the first
sentence is audible before the reply is finished.

Providers are picked per stage with presets (see 'voicestream presets') or
the STT_PROVIDER, LLM_PROVIDER and TTS_PROVIDER variables. TEST_MODE=true
swaps every stage for an offline mock.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "YAML config file")
	pf.StringVarP(&presetName, "preset", "p", "", "provider preset (overrides config and environment)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(sayCmd, listenCmd, serveCmd, replayCmd, scenariosCmd, presetsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig layers command-line flags over config.Load and initializes
// the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if presetName != "" {
		if err := cfg.ApplyPreset(presetName); err != nil {
			return nil, err
		}
		if cfg.TestMode {
			cfg.ApplyPreset(config.PresetMock)
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// newPipeline builds a pipeline from the loaded configuration.
func newPipeline(ctx context.Context, cfg *config.Config, opts ...voice.Option) (*voice.Pipeline, error) {
	p, err := providers.NewPipeline(ctx, cfg, log.L(), opts...)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func logger() *slog.Logger { return log.L() }

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List provider presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st := newStyles()
		for _, name := range config.Presets() {
			cfg := config.Default()
			if err := cfg.ApplyPreset(name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n",
				st.Label.Width(10).Render(name),
				st.Dim.Render(fmt.Sprintf("stt=%v llm=%v tts=%v", cfg.STT.Providers, cfg.LLM.Providers, cfg.TTS.Providers)),
			)
		}
		return nil
	},
}
