package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	verrors "github.com/daimoniac/vendorcomply/internal/errors"
)

// Server provides HTTP endpoints for metrics and health checks
type Server struct {
	metricsServer *http.Server
	healthServer  *http.Server
	logger        *slog.Logger
	health        *Monitor
}

// NewServer creates a new observability server
func NewServer(metricsPort, healthPort int, logger *slog.Logger, health *Monitor) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", health.HealthHandler())
	healthMux.HandleFunc("/ready", health.ReadyHandler())

	return &Server{
		metricsServer: newHTTPServer(metricsPort, metricsMux),
		healthServer:  newHTTPServer(healthPort, healthMux),
		logger:        logger,
		health:        health,
	}
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}

// Start binds both listeners and serves until ctx is cancelled.
// Bind failures are returned immediately.
func (s *Server) Start(ctx context.Context) error {
	metricsLn, err := net.Listen("tcp", s.metricsServer.Addr)
	if err != nil {
		return verrors.NewPermanentf("metrics listener: %w", err)
	}
	healthLn, err := net.Listen("tcp", s.healthServer.Addr)
	if err != nil {
		metricsLn.Close()
		return verrors.NewPermanentf("health listener: %w", err)
	}
	return s.Serve(ctx, metricsLn, healthLn)
}

// Serve runs both servers on the given listeners until ctx is cancelled
func (s *Server) Serve(ctx context.Context, metricsLn, healthLn net.Listener) error {
	go s.serve("metrics", s.metricsServer, metricsLn)
	go s.serve("health", s.healthServer, healthLn)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) serve(name string, srv *http.Server, ln net.Listener) {
	s.logger.Info("starting "+name+" server",
		"addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error(name+" server error",
			"error", err.Error())
	}
}

// Shutdown gracefully shuts down the observability servers
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down observability servers")

	if err := s.metricsServer.Shutdown(ctx); err != nil {
		return verrors.NewTransientf("metrics server shutdown: %w", err)
	}

	if err := s.healthServer.Shutdown(ctx); err != nil {
		return verrors.NewTransientf("health server shutdown: %w", err)
	}

	return nil
}
