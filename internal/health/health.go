// Package health implements the proxy's control-plane HTTP endpoint:
// liveness/uptime at /healthcheck and Prometheus scraping at /metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dualproxy/dualproxy/internal/logging"
	"github.com/dualproxy/dualproxy/internal/stats"
)

// status is the JSON body served from /healthcheck. Field names and
// semantics come from the original implementation's node status report:
// both fields are null until the server has recorded a start time.
type status struct {
	UptimeSecs   *int64  `json:"uptime_secs"`
	StartedUTCTs *string `json:"started_utc_ts"`
}

// Server serves the health and metrics endpoints on their own listener,
// separate from the proxy's SOCKS5/HTTP port.
type Server struct {
	addr   string
	stats  *stats.ServerStats
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds a health Server. A nil logger discards all output.
func NewServer(addr string, st *stats.ServerStats, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}

	mux := http.NewServeMux()
	s := &Server{addr: addr, stats: st, logger: logger}
	mux.HandleFunc("/healthcheck", s.handleHealthcheck)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", notImplemented)

	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run starts serving and blocks until the listener is closed or ctx is
// canceled, at which point it shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("health endpoint listening", "address", s.addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func requireGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}

	resp := status{}
	if s.stats.IsStarted() {
		uptime := int64(s.stats.Uptime(time.Now()).Seconds())
		started := s.stats.StartedAt().UTC().Format(time.RFC3339)
		resp.UptimeSecs = &uptime
		resp.StartedUTCTs = &started
	}

	writeJSON(w, http.StatusOK, resp)
}

func notImplemented(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not implemented", http.StatusNotImplemented)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":"encode failed"}`)
	}
}
