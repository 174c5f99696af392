// Package api provides the HTTP server for AutoPress.
// It exposes the autopilot trigger endpoint and the dashboard REST API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Server is the AutoPress HTTP API server.
type Server struct {
	autopilot      *AutopilotAPI
	dashboard      *DashboardAPI
	metricsEnabled bool
	log            zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(autopilot *AutopilotAPI, dashboard *DashboardAPI) *Server {
	return &Server{autopilot: autopilot, dashboard: dashboard, log: zerolog.Nop()}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(log zerolog.Logger) {
	s.log = log.With().Str("component", "api").Logger()
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": version,
		})
	})

	r.Route("/api/autopilot", func(r chi.Router) {
		r.Post("/tick", s.autopilot.HandleTick)
	})

	r.Route("/api/credits", func(r chi.Router) {
		r.Get("/{ownerID}", s.dashboard.HandleBalance)
		r.Get("/{ownerID}/history", s.dashboard.HandleHistory)
		r.Post("/{ownerID}/topup", s.dashboard.HandleTopUp)
	})

	r.Route("/api/workitems", func(r chi.Router) {
		r.Get("/", s.dashboard.HandleListWorkItems)
		r.Post("/", s.dashboard.HandleCreateWorkItem)
		r.Get("/{id}", s.dashboard.HandleGetWorkItem)
		r.Post("/{id}/cancel", s.dashboard.HandleCancelWorkItem)
	})

	r.Route("/api/posts", func(r chi.Router) {
		r.Post("/", s.dashboard.HandleSchedulePost)
		r.Get("/{id}", s.dashboard.HandleGetPost)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
