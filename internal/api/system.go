package api

import (
	"net/http"
	"time"
)

// handleHealth reports the bridge's overall condition. The bridge serves
// stored data even when the bus is down, so a degraded bus still returns
// 200 with its state visible.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			dbStatus = "unavailable"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"bus":       s.bridge.BusState(),
		"database":  dbStatus,
		"uptimeSec": int64(time.Since(s.started).Seconds()),
	})
}

// handleStats reports stored row counts and live session information.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		writeInternalError(w, "failed to read stats")
		return
	}

	sessions := 0
	if h := s.bridge.Hub(); h != nil {
		sessions = h.SessionCount()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"telemetryCount": counts.TelemetryCount,
		"controlCount":   counts.ControlCount,
		"sessions":       sessions,
		"bus":            s.bridge.BusState(),
	})
}
