package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vantran-dev/homestream-core/internal/bridge"
	"github.com/vantran-dev/homestream-core/internal/bus"
)

// deviceStatusView is the per-device entry in status responses. A device
// with no control history reports "off" with a null timestamp.
type deviceStatusView struct {
	DeviceID  string     `json:"deviceId"`
	Status    string     `json:"status"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// controlRequest is the POST /devices/{id}/control body.
type controlRequest struct {
	Action string `json:"action"`
}

// handleAllDeviceStatus returns the last known status of every configured
// device.
func (s *Server) handleAllDeviceStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.LatestStatuses(r.Context())
	if err != nil {
		s.logger.Error("device status query failed", "error", err)
		writeInternalError(w, "failed to read device status")
		return
	}

	views := make([]deviceStatusView, 0, len(s.cfg.Devices.IDs))
	for _, deviceID := range s.cfg.Devices.IDs {
		view := deviceStatusView{DeviceID: deviceID, Status: "off"}
		if status, ok := statuses[deviceID]; ok {
			view.Status = status.Status
			updatedAt := status.UpdatedAt
			view.UpdatedAt = &updatedAt
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleDeviceStatus returns the last known status of one device.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	if !slices.Contains(s.cfg.Devices.IDs, deviceID) {
		writeNotFound(w, "unknown device: "+deviceID)
		return
	}

	status, err := s.store.LastStatus(r.Context(), deviceID)
	if err != nil {
		s.logger.Error("device status query failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to read device status")
		return
	}

	view := deviceStatusView{DeviceID: deviceID, Status: "off"}
	if status != nil {
		view.Status = status.Status
		updatedAt := status.UpdatedAt
		view.UpdatedAt = &updatedAt
	}
	writeJSON(w, http.StatusOK, view)
}

// handleListControls returns control history, newest first.
//
// Query parameters: deviceId (optional filter), limit, offset.
func (s *Server) handleListControls(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	records, err := s.store.ListControlRecords(r.Context(), r.URL.Query().Get("deviceId"), limit, offset)
	if err != nil {
		s.logger.Error("control history query failed", "error", err)
		writeInternalError(w, "failed to read control history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// handleDeviceControl executes a control request through the same
// orchestrator as the WebSocket path and returns the same result shape.
//
// A publish failure still persists the attempt; it answers 502 because
// the command did not reach the device.
func (s *Server) handleDeviceControl(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.bridge.Control(r.Context(), deviceID, req.Action)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, bridge.ErrInvalidRequest):
		writeBadRequest(w, err.Error())
	case errors.Is(err, bridge.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "bridge is not running")
	case errors.Is(err, bus.ErrNotConnected):
		writeError(w, http.StatusBadGateway, ErrCodeBusDown, "command accepted but not delivered: bus disconnected")
	default:
		s.logger.Error("device control failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "device control failed")
	}
}
