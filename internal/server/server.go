package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"pmboard/internal/broadcast"
	"pmboard/internal/model"
	"pmboard/internal/service"
)

// SnapshotProvider is the coordinator surface the HTTP layer uses.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
	Stats() service.Stats
	TTL() time.Duration
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	StaticDir       string
	CORS            bool
	CORSOrigins     []string
	Limits          ViewLimits
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics exposes handler at /metrics and records request metrics.
func WithMetrics(handler http.Handler, observer RequestObserver) Option {
	return func(s *Server) {
		s.metrics = handler
		s.observer = observer
	}
}

// Server wraps the echo instance serving pull and push endpoints.
type Server struct {
	echo        *echo.Echo
	cfg         Config
	provider    SnapshotProvider
	broadcaster *broadcast.Broadcaster
	upgrader    websocket.Upgrader
	logger      zerolog.Logger

	metrics  http.Handler
	observer RequestObserver
}

// New builds the router. broadcaster may be nil, in which case the push endpoints are not registered.
func New(cfg Config, provider SnapshotProvider, broadcaster *broadcast.Broadcaster, logger zerolog.Logger, opts ...Option) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:         cfg,
		provider:    provider,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "http").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.ReadHeaderTimeout = cfg.ReadTimeout

	e.Use(requestLogger(s.logger, s.observer))
	e.Use(recoverMiddleware(s.logger))
	if cfg.CORS {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: s.allowedOrigins(),
			AllowMethods: []string{http.MethodGet, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")
	api.GET("/events", s.handleEvents)
	if s.broadcaster != nil {
		api.GET("/events/stream", s.handleStream)
		api.GET("/events/ws", s.handleWebSocket)
	}

	s.echo.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	if s.cfg.StaticDir != "" {
		s.echo.Static("/", s.cfg.StaticDir)
	}
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	// Request contexts derive from ctx so long-lived streams end on shutdown.
	s.echo.Server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get(echo.HeaderOrigin)
	if origin == "" {
		return true
	}
	allowed := s.allowedOrigins()
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}
