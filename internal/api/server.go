package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ez-Support/swd-ros-controllers/internal/auth"
	"github.com/ez-Support/swd-ros-controllers/internal/config"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// DefaultSubmitTimeout bounds how long a request waits for room in the
// controller's command queue.
const DefaultSubmitTimeout = 200 * time.Millisecond

// Server represents the HTTP API server.
type Server struct {
	cfg            config.HTTPConfig
	controller     ControllerPort
	telemetryHub   TelemetryPort
	broker         BrokerPort
	metrics        http.Handler
	authMiddleware *auth.Middleware
	logger         *zap.SugaredLogger
	submitTimeout  time.Duration
	startTime      time.Time

	httpServer *http.Server
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithAuth protects the endpoints with m.
func WithAuth(m *auth.Middleware) Option {
	return func(s *Server) { s.authMiddleware = m }
}

// WithTelemetry serves the telemetry streams from hub.
func WithTelemetry(hub TelemetryPort) Option {
	return func(s *Server) { s.telemetryHub = hub }
}

// WithBroker reports the MQTT bridge in health.
func WithBroker(b BrokerPort) Option {
	return func(s *Server) { s.broker = b }
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = l }
}

// WithSubmitTimeout overrides DefaultSubmitTimeout.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Server) { s.submitTimeout = d }
}

// NewServer creates a new API server for controller.
func NewServer(cfg config.HTTPConfig, controller ControllerPort, opts ...Option) *Server {
	s := &Server{
		cfg:           cfg,
		controller:    controller,
		submitTimeout: DefaultSubmitTimeout,
		startTime:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.authMiddleware == nil {
		s.authMiddleware = auth.NewMiddleware(nil)
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		// Streams stay open; WriteTimeout must stay zero for them.
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Infow("http server listening", "addr", s.cfg.Addr, "auth", s.authMiddleware.Enabled())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
