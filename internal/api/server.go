package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config configures the HTTP listener.
type Config struct {
	Addr            string        `yaml:"addr" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

// Option adds a route to the server.
type Option func(e *echo.Echo)

// WithHealth serves h on /healthz.
func WithHealth(h http.Handler) Option {
	return func(e *echo.Echo) { e.GET("/healthz", echo.WrapHandler(h)) }
}

// WithMetrics serves the gatherer on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(e *echo.Echo) {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}
}

// WithStream serves the websocket renderer on /ws.
func WithStream(h http.Handler) Option {
	return func(e *echo.Echo) { e.GET("/ws", echo.WrapHandler(h)) }
}

// Server wraps the echo instance.
type Server struct {
	echo   *echo.Echo
	cfg    Config
	logger zerolog.Logger
}

// NewServer builds the router. h may be nil.
func NewServer(cfg Config, h *Handler, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	l := log.With().Str("component", "http").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := l.Debug()
			if v.Error != nil || v.Status >= 500 {
				ev = l.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	if h != nil {
		h.RegisterRoutes(e)
	}
	for _, opt := range opts {
		opt(e)
	}
	return &Server{echo: e, cfg: cfg, logger: l}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("stopped")
	return nil
}
