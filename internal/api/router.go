package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database ping behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleMethodNotAllowed)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/sessions", s.handleSessions)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/version", s.handleVersion)
	})

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	MQTT     string `json:"mqtt"`
	InfluxDB string `json:"influxdb"`
}

// Component states reported by /health.
const (
	statusOK           = "ok"
	statusDegraded     = "degraded"
	statusError        = "error"
	statusConnected    = "connected"
	statusDisconnected = "disconnected"
	statusDisabled     = "disabled"
)

// handleHealth reports 503 only when the database is unreachable. The MQTT
// feed and InfluxDB metrics are optional and never fail the probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:   statusOK,
		Version:  s.version,
		Database: statusOK,
		MQTT:     connectionStatus(s.mqtt),
		InfluxDB: connectionStatus(s.influx),
	}

	status := http.StatusOK
	if err := s.db.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check: database unreachable", "error", err)
		resp.Status = statusDegraded
		resp.Database = statusError
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func connectionStatus(c ConnectionChecker) string {
	switch {
	case c == nil:
		return statusDisabled
	case c.IsConnected():
		return statusConnected
	default:
		return statusDisconnected
	}
}

// handleSessions returns live session counts.
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Stats())
}

// handleVersion returns the server build version.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": s.version,
	})
}
