// Package health serves the sender's liveness and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/relay-sender/internal/config"
	"github.com/rickgao/relay-sender/internal/connection"
	"github.com/rickgao/relay-sender/internal/version"
)

// StatusSource reports the connection manager's state.
type StatusSource interface {
	Stats() connection.ManagerStats
}

// Response is the JSON body served at /health.
type Response struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Components map[string]interface{} `json:"components"`
}

// NewHandler returns a mux serving /health and, when gatherer is non-nil, Prometheus metrics at metricsPath.
// A metricsPath that is empty or collides with /health falls back to the default metrics path.
func NewHandler(src StatusSource, gatherer prometheus.Gatherer, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(config.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		stats := src.Stats()

		health := Response{
			Status:     "healthy",
			Version:    version.Version,
			Components: make(map[string]interface{}),
		}

		conn := map[string]interface{}{
			"state":        stats.State.String(),
			"sent":         stats.Sent,
			"skipped":      stats.Skipped,
			"received":     stats.Received,
			"parse_errors": stats.ParseErrors,
			"reconnects":   stats.Reconnects,
		}
		if stats.State == connection.StateOpen {
			conn["session"] = stats.SessionID.String()
			conn["connected_at"] = stats.ConnectedAt.UTC().Format(time.RFC3339)
		} else {
			// The manager keeps reconnecting, so a closed socket is not fatal.
			health.Status = "degraded"
		}
		health.Components["websocket"] = conn

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	if gatherer != nil {
		if metricsPath == "" || metricsPath == config.HealthPath {
			metricsPath = config.DefaultMetricsPath
		}
		mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// Server wraps an http.Server bound to the health handler.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a health server listening on port.
func NewServer(port int, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Run serves until ctx is cancelled, then shuts down with a 10s grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting health server", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("health server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown health server: %w", err)
	}
	s.logger.Info("health server stopped")
	return <-errCh
}
