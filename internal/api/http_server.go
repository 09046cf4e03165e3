package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agrosync/internal/cache"
	"agrosync/internal/config"
	"agrosync/internal/store"
	"agrosync/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the sync core to the local app: health, metrics,
// manual sync controls, local listings, and the caching proxy.
type HTTPServer struct {
	cfg         config.APIConfig
	coordinator *syncer.Coordinator
	store       *store.Store
	server      *http.Server
	logger      *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, monitoring config.MonitoringConfig, coordinator *syncer.Coordinator, st *store.Store, proxy *cache.Manager, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, coordinator: coordinator, store: st, logger: logger}

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/sync/status", srv.handleSyncStatus)
	mux.HandleFunc("/api/v1/listings", srv.handleListings)
	mux.HandleFunc("/api/v1/listings/", srv.handleListing)
	if monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if proxy != nil {
		mux.Handle("/proxy/", http.StripPrefix("/proxy", proxy))
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSync triggers a drain. The request returns immediately; the
// drain itself is single-flight.
func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.coordinator.RequestDrain()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pending := s.coordinator.Pending()
	lastSync, err := s.store.LastSync(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read lastSync")
	}

	resp := map[string]any{
		"pending":     len(pending),
		"last_report": s.coordinator.LastReport(),
	}
	if !lastSync.IsZero() {
		resp["last_sync"] = lastSync.Format(time.RFC3339)
	} else {
		resp["last_sync"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
