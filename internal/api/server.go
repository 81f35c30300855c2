// Package api provides the PressMesh HTTP server. It exposes public
// system endpoints plus an authenticated admin surface for job and
// provider management.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pressmesh/pressmesh/internal/fallback"
	"github.com/pressmesh/pressmesh/internal/infra/metrics"
	"github.com/pressmesh/pressmesh/internal/jobs"
	"github.com/pressmesh/pressmesh/internal/provider"
	"github.com/pressmesh/pressmesh/internal/readiness"
)

// Version is stamped by the build; defaults for dev builds.
var Version = "0.1.0"

// Server is the PressMesh HTTP API server.
type Server struct {
	queue          *jobs.Queue
	pool           *provider.Pool
	monitor        *readiness.Monitor
	fb             *fallback.Handler
	authToken      string
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(queue *jobs.Queue, pool *provider.Pool, fb *fallback.Handler) *Server {
	return &Server{queue: queue, pool: pool, fb: fb}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetMonitor wires the readiness monitor (nil leaves readiness
// endpoints reporting disabled).
func (s *Server) SetMonitor(m *readiness.Monitor) { s.monitor = m }

// SetAuthToken sets the bearer token required by /api/admin routes.
// An empty token leaves the admin surface open (local development).
func (s *Server) SetAuthToken(token string) { s.authToken = token }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)

	// Health check for load balancers
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": Version,
		})
	})

	// System endpoints for operational tooling
	r.Route("/api/system", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/workers", s.handleWorkers)
		r.Get("/readiness", s.handleReadiness)
	})

	// Admin surface, bearer-token protected
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/jobs/recent", s.handleRecentJobs)
		r.Post("/jobs", s.handleEnqueueJob)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Get("/providers", s.handleProviders)
		r.Post("/workers/pause", s.handlePause)
		r.Post("/workers/resume", s.handleResume)
		r.Get("/readiness/history", s.handleReadinessHistory)
		r.Get("/readiness/mttr", s.handleMTTR)
		r.Get("/readiness/degradations", s.handleDegradations)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// requireAuth enforces the admin bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Authentication required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
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

// writeFallback writes a user-safe failure envelope. The HTTP status
// follows the category; the envelope body is returned verbatim so
// every caller sees the same uniform shape.
func (s *Server) writeFallback(w http.ResponseWriter, t fallback.Type, opts *fallback.Options) {
	resp := s.fb.Response(t, opts)
	metrics.FallbacksServed.WithLabelValues(string(resp.Type)).Inc()
	writeJSON(w, fallback.HTTPStatus(resp.Type), resp)
}

// corsMiddleware adds CORS headers for the dashboard frontend.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
