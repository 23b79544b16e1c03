package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the control API over HTTP.
type Server struct {
	sup    *Supervisor
	server *http.Server
}

// NewServer creates the control server and registers its routes.
func NewServer(sup *Supervisor, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		sup: sup,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc("/api/instances", s.handleInstances)
	mux.HandleFunc("/api/instances/live", s.handleInstancesLive)
	mux.HandleFunc("/api/discovery/refresh", s.handleRefresh)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", sup.hub.ServeWS)

	return s
}

// Start starts the HTTP server. It returns nil on graceful shutdown.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleInstances returns the current snapshot's instances as a flat list.
func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Snapshot().Instances)
}

// handleInstancesLive serves the frontend's live view contract.
func (s *Server) handleInstancesLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshot := s.sup.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":       snapshot.Mode,
		"stats":      snapshot.Stats(),
		"instances":  snapshot.Instances,
		"lastUpdate": snapshot.FetchedAt,
	})
}

// handleRefresh forces a discovery refresh, bypassing the cache TTL.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshot := s.sup.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"source": snapshot.Source,
		"stats":  snapshot.Stats(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Status())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recent, err := s.sup.RecentAlerts(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to load alerts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
