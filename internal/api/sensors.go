package api

import (
	"net/http"
	"strconv"
	"time"
)

// defaultChartHours is the window for /sensors/chart when none is given.
const defaultChartHours = 24

// handleListSensors returns stored readings, newest first.
//
// Query parameters: limit (default 50, max 500), offset.
func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	readings, err := s.store.ListTelemetry(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("sensor list query failed", "error", err)
		writeInternalError(w, "failed to read sensor data")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"readings": readings,
		"count":    len(readings),
	})
}

// handleLatestSensor returns the most recent reading, or 404 when nothing
// has been recorded yet.
func (s *Server) handleLatestSensor(w http.ResponseWriter, r *http.Request) {
	reading, err := s.store.LatestTelemetry(r.Context())
	if err != nil {
		s.logger.Error("latest sensor query failed", "error", err)
		writeInternalError(w, "failed to read sensor data")
		return
	}
	if reading == nil {
		writeNotFound(w, "no sensor data recorded")
		return
	}

	writeJSON(w, http.StatusOK, reading)
}

// handleSensorChart returns readings within a trailing window, oldest
// first, for dashboard charting.
//
// Query parameters: hours (default 24), limit.
func (s *Server) handleSensorChart(w http.ResponseWriter, r *http.Request) {
	hours := defaultChartHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "hours must be a positive integer")
			return
		}
		hours = parsed
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	readings, err := s.store.TelemetrySeries(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("sensor chart query failed", "error", err)
		writeInternalError(w, "failed to read sensor data")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"since":    since,
		"readings": readings,
		"count":    len(readings),
	})
}

// pagination parses limit/offset query parameters, writing a 400 on bad
// input. The store clamps the actual page size.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = parsed
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}
