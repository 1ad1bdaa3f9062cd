package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

type healthResponse struct {
	Status     string `json:"status"`
	Database   string `json:"database"`
	ActiveRuns int    `json:"active_runs"`
}

// handleHealthz reports 200 while the store answers pings and 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", ActiveRuns: s.engine.Active()}
	code := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}
