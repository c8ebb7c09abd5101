// Package web serves a voice pipeline over HTTP.
//
// Turns are started with POST requests and run to completion inside the
// request. Every pipeline event is streamed to /ws/events clients as JSON.
package web

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-voicestream/internal/log"
	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/hub"
	"github.com/teslashibe/go-voicestream/pkg/metrics"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

// Config holds server settings.
type Config struct {
	Addr        string        `yaml:"addr" json:"addr"`
	TurnTimeout time.Duration `yaml:"turn_timeout" json:"turn_timeout"`
	MaxBodySize int           `yaml:"max_body_size" json:"max_body_size"`
	// Backlog is how many recent events a new websocket client receives.
	Backlog   int    `yaml:"backlog" json:"backlog"`
	StaticDir string `yaml:"static_dir" json:"static_dir"`
	AccessLog bool   `yaml:"access_log" json:"access_log"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		TurnTimeout: 60 * time.Second,
		MaxBodySize: 25 * 1024 * 1024, // Whisper upload limit
		Backlog:     200,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records HTTP metrics into m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// Server exposes one pipeline.
type Server struct {
	app      *fiber.App
	cfg      Config
	pipeline *voice.Pipeline
	logger   *slog.Logger

	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	eventHub    *hub.Hub
	stopHub     context.CancelFunc
	unsubscribe func()
}

// NewServer creates a server for p. The event hub starts immediately;
// call Shutdown to stop it.
func NewServer(p *voice.Pipeline, cfg Config, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = def.TurnTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.Backlog < 0 {
		cfg.Backlog = 0
	}

	s := &Server{cfg: cfg, pipeline: p}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.Component(s.logger, "web.Server")
	s.eventHub = hub.New("events", hub.WithLogger(s.logger))

	app := fiber.New(fiber.Config{
		AppName:               "voicestream",
		DisableStartupMessage: true,
		BodyLimit:             cfg.MaxBodySize,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if cfg.AccessLog {
		app.Use(logger.New())
	}
	if s.metrics != nil {
		app.Use(s.recordRequest)
	}
	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/health", s.handleHealth)
	api.Get("/history", s.handleGetHistory)
	api.Delete("/history", s.handleClearHistory)
	api.Get("/events", s.handleGetEvents)
	api.Post("/turns", s.handleTextTurn)
	api.Post("/turns/audio", s.handleAudioTurn)
	api.Delete("/turns/current", s.handleCancelTurn)

	if s.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app

	ctx, cancel := context.WithCancel(context.Background())
	s.stopHub = cancel
	go s.eventHub.Run(ctx)
	s.unsubscribe = p.Bus().Subscribe(events.ObserverFunc(s.forward))

	return s
}

// App returns the underlying fiber app, for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// EventHub returns the hub that streams pipeline events.
func (s *Server) EventHub() *hub.Hub { return s.eventHub }

// Start listens on the configured address. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("server stopped", "error", err)
		}
	}()
}

// Shutdown stops event streaming and gracefully stops the server.
func (s *Server) Shutdown() error {
	s.unsubscribe()
	s.stopHub()
	return s.app.Shutdown()
}

// forward runs on the publishing goroutine; hub.Broadcast never blocks.
func (s *Server) forward(e events.Event) {
	if err := s.eventHub.BroadcastJSON(e); err != nil {
		s.logger.Warn("failed to encode event", "type", e.Type(), "error", err)
	}
}

// recordRequest feeds HTTP metrics. Routes are labeled by pattern.
func (s *Server) recordRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = fiber.StatusInternalServerError
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
	}
	s.metrics.RecordHTTPRequest(c.Method(), c.Route().Path, strconv.Itoa(status), time.Since(start).Seconds())
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
