package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nthlayer/nthlayer/internal/deployevents"
	"github.com/nthlayer/nthlayer/internal/logging"
)

// ReadinessChecker reports whether the server's dependencies are ready to
// serve traffic.
type ReadinessChecker interface {
	IsReady() bool
}

// NoOpReadinessChecker is a ReadinessChecker that always returns true.
// Use this when no readiness checking is needed (e.g., when the event store
// is disabled).
type NoOpReadinessChecker struct{}

// IsReady always returns true for the no-op checker.
func (n *NoOpReadinessChecker) IsReady() bool {
	return true
}

// Config holds the server's tunables.
type Config struct {
	Port int

	// MaxInFlight caps concurrent webhook deliveries. Requests beyond the
	// cap get 503 so the sender retries. Zero disables the cap.
	MaxInFlight int
}

// Server handles deployment webhook deliveries and exposes health and
// metrics endpoints.
type Server struct {
	port             int
	server           *http.Server
	logger           *logging.Logger
	ingestor         *deployevents.Ingestor
	router           *http.ServeMux
	readinessChecker ReadinessChecker
	inflight         chan struct{}
}

// New creates an API server around the given ingestor.
func New(cfg Config, ingestor *deployevents.Ingestor, readiness ReadinessChecker) *Server {
	s := &Server{
		port:             cfg.Port,
		logger:           logging.GetLogger("apiserver"),
		ingestor:         ingestor,
		router:           http.NewServeMux(),
		readinessChecker: readiness,
	}
	if cfg.MaxInFlight > 0 {
		s.inflight = make(chan struct{}, cfg.MaxInFlight)
	}

	s.registerHandlers()
	s.configureHTTPServer(cfg.Port)
	return s
}

// configureHTTPServer creates the HTTP server with CORS middleware and
// appropriate timeouts.
func (s *Server) configureHTTPServer(port int) {
	handler := s.corsMiddleware(s.router)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Start implements the lifecycle.Component interface.
// Starts the HTTP server and begins listening for requests.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server on port %d", s.port)

	// Check context isn't already cancelled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error: %v", err)
		}
	}()

	s.logger.Info("API server started and listening on port %d", s.port)
	return nil
}

// Stop implements the lifecycle.Component interface.
// Gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")

	done := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- s.server.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("HTTP server shutdown error: %v", err)
			return err
		}
		s.logger.Info("API server stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("API server shutdown timeout")
		return ctx.Err()
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
	})
}

// handleReady handles readiness check requests
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.readinessChecker != nil && s.readinessChecker.IsReady()

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready": ready,
	})
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() int {
	return s.port
}

// Name implements the lifecycle.Component interface.
func (s *Server) Name() string {
	return "API Server"
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}
