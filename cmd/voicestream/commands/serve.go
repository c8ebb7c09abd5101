package commands

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicestream/pkg/metrics"
	"github.com/teslashibe/go-voicestream/pkg/voice"
	"github.com/teslashibe/go-voicestream/pkg/web"
)

var (
	serveAddr   string
	serveStatic string
	accessLog   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP and WebSocket",
	Long: `Serve one pipeline.

Endpoints:
  POST   /api/turns          text turn, JSON {"text": "..."}
  POST   /api/turns/audio    audio turn, WAV body (?format=wav for audio back)
  DELETE /api/turns/current  cancel the running turn
  GET    /api/state          pipeline state
  GET    /api/history        conversation history
  GET    /api/events         event log (?turn=, ?type=, ?format=msgpack)
  GET    /api/health         provider health
  GET    /metrics            Prometheus metrics
  WS     /ws/events          live event stream

When rtp.addr is configured every reply is also streamed there as Opus RTP.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Web.Addr = serveAddr
		}
		if serveStatic != "" {
			cfg.Web.StaticDir = serveStatic
		}
		if accessLog {
			cfg.Web.AccessLog = true
		}

		ctx, stop := signalContext()
		defer stop()

		var opts []voice.Option
		if cfg.RTP.Addr != "" {
			sink, err := dialRTP(cfg, cfg.RTP.Addr)
			if err != nil {
				return err
			}
			defer sink.Close()
			opts = append(opts, voice.WithSink(sink))
			logger().Info("streaming replies over RTP", "addr", cfg.RTP.Addr, "ssrc", sink.SSRC())
		}

		p, err := newPipeline(ctx, cfg, opts...)
		if err != nil {
			return err
		}
		defer p.Close()
		p.Latency().OnUpdate(func(m voice.Metrics) {
			logger().Info("turn latency", "turn_id", m.TurnID, "outcome", m.Outcome, "latency", m.FormatLatency())
		})

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := metrics.New(reg)
		m.RegisterLimiters(p.Limiters())
		defer p.Bus().Subscribe(m)()

		srv := web.NewServer(p, cfg.Web, web.WithLogger(logger()), web.WithMetrics(m, reg))

		errc := make(chan error, 1)
		go func() { errc <- srv.Start() }()

		select {
		case err := <-errc:
			srv.Shutdown()
			return fmt.Errorf("server: %w", err)
		case <-ctx.Done():
		}

		logger().Info("shutting down")
		return srv.Shutdown()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&serveStatic, "static", "", "serve files from this directory at /")
	serveCmd.Flags().BoolVar(&accessLog, "access-log", false, "log every request")
}
