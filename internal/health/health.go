// Package health serves the operational HTTP surface: liveness,
// readiness, and Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check is a named readiness probe against an external dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Server exposes /health, /ready and /metrics.
type Server struct {
	addr   string
	checks []Check
	log    *slog.Logger
}

// New creates a health server with the given readiness checks.
func New(addr string, checks ...Check) *Server {
	return &Server{
		addr:   addr,
		checks: checks,
		log:    slog.With("component", "health"),
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("serving operational endpoints", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleHealth reports liveness: the process is up and serving.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "clearinghouse",
	})
}

// handleReady reports readiness: every dependency check passes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, check := range s.checks {
		if err := check.Fn(ctx); err != nil {
			s.log.Warn("readiness check failed", "check", check.Name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"check":  check.Name,
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
