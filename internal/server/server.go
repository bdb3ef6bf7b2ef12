// Package server exposes the collector's operational endpoints: health,
// readiness, version, Prometheus metrics and the live event stream.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	kmiddleware "github.com/aaronlmathis/kusage/internal/middleware"
	"github.com/aaronlmathis/kusage/internal/timeseries/aggregator"
	"github.com/aaronlmathis/kusage/internal/version"
)

// readyPollMultiple is how many poll intervals may pass without a completed
// collection before the collector reports not ready.
const readyPollMultiple = 3

// StatusProvider reports the aggregator state
type StatusProvider interface {
	Status() aggregator.Status
}

// Server serves the operational HTTP endpoints
type Server struct {
	logger       *zap.Logger
	router       chi.Router
	status       StatusProvider
	events       http.Handler
	pollInterval time.Duration
	now          func() time.Time
}

// NewServer creates a new server. events may be nil when the websocket sink is disabled.
func NewServer(logger *zap.Logger, status StatusProvider, events http.Handler, pollInterval time.Duration) *Server {
	s := &Server{
		logger:       logger,
		router:       chi.NewRouter(),
		status:       status,
		events:       events,
		pollInterval: pollInterval,
		now:          time.Now,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(kmiddleware.ZapLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(kmiddleware.RequestIDResponseMiddleware)
	s.router.Use(kmiddleware.PrometheusMiddleware)
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	s.router.Get("/version", s.handleVersion)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	s.router.Get("/status", s.handleStatus)

	if s.events != nil {
		s.router.Method(http.MethodGet, "/events", s.events)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once a collection has completed recently.
// A disabled collector never collects, so it is always ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.status.Status()
	if !status.Enabled {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "collector": "disabled"})
		return
	}
	if status.LastCollect.IsZero() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first collection"})
		return
	}

	if age := s.now().Sub(status.LastCollect); age > readyPollMultiple*s.pollInterval {
		s.logger.Warn("Collection is stale", zap.Duration("age", age))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stale", "lastCollect": status.LastCollect.Format(time.RFC3339)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
