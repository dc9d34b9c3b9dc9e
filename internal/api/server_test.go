package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantran-dev/homestream-core/internal/bridge"
	"github.com/vantran-dev/homestream-core/internal/bus"
	"github.com/vantran-dev/homestream-core/internal/hub"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/config"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/logging"
	"github.com/vantran-dev/homestream-core/internal/storage"
)

// =============================================================================
// Test doubles
// =============================================================================

// fakeStore implements Store with canned data.
type fakeStore struct {
	readings     []storage.TelemetryReading
	latest       *storage.TelemetryReading
	records      []storage.ControlRecord
	lastStatus   map[string]*storage.DeviceStatus
	latestStatus map[string]storage.DeviceStatus
	stats        storage.Stats

	listDeviceFilter string
}

func (f *fakeStore) ListTelemetry(_ context.Context, _, _ int) ([]storage.TelemetryReading, error) {
	return f.readings, nil
}

func (f *fakeStore) LatestTelemetry(_ context.Context) (*storage.TelemetryReading, error) {
	return f.latest, nil
}

func (f *fakeStore) TelemetrySeries(_ context.Context, _ time.Time, _ int) ([]storage.TelemetryReading, error) {
	return f.readings, nil
}

func (f *fakeStore) ListControlRecords(_ context.Context, deviceID string, _, _ int) ([]storage.ControlRecord, error) {
	f.listDeviceFilter = deviceID
	return f.records, nil
}

func (f *fakeStore) LastStatus(_ context.Context, deviceID string) (*storage.DeviceStatus, error) {
	return f.lastStatus[deviceID], nil
}

func (f *fakeStore) LatestStatuses(_ context.Context) (map[string]storage.DeviceStatus, error) {
	return f.latestStatus, nil
}

func (f *fakeStore) Counts(_ context.Context) (storage.Stats, error) {
	return f.stats, nil
}

// fakeBridge implements Bridge.
type fakeBridge struct {
	result     bridge.ControlResult
	controlErr error
	hub        bridge.ClientHub

	controlDevice string
	controlAction string
}

func (f *fakeBridge) Control(_ context.Context, deviceID, action string) (bridge.ControlResult, error) {
	f.controlDevice = deviceID
	f.controlAction = action
	return f.result, f.controlErr
}

func (f *fakeBridge) Hub() bridge.ClientHub { return f.hub }
func (f *fakeBridge) BusState() string      { return "connected" }
func (f *fakeBridge) Running() bool         { return true }

// testServer builds a server over fakes.
func testServer(t *testing.T) (*Server, *fakeStore, *fakeBridge) {
	t.Helper()

	store := &fakeStore{
		lastStatus:   make(map[string]*storage.DeviceStatus),
		latestStatus: make(map[string]storage.DeviceStatus),
	}
	br := &fakeBridge{}

	srv, err := New(Deps{
		Config:  config.Default(),
		Logger:  logging.Default(),
		Store:   store,
		Bridge:  br,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, store, br
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

// =============================================================================
// Health and Stats Tests
// =============================================================================

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["status"] != "ok" || body["bus"] != "connected" {
		t.Errorf("body = %v, want status ok and bus connected", body)
	}
}

func TestStats(t *testing.T) {
	srv, store, _ := testServer(t)
	store.stats = storage.Stats{TelemetryCount: 42, ControlCount: 7}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["telemetryCount"] != float64(42) || body["controlCount"] != float64(7) {
		t.Errorf("body = %v, want counts 42/7", body)
	}
}

// =============================================================================
// Middleware Tests
// =============================================================================

func TestRequestIDGenerated(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestIDPreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// =============================================================================
// Sensor Endpoint Tests
// =============================================================================

func TestListSensors(t *testing.T) {
	srv, store, _ := testServer(t)
	store.readings = []storage.TelemetryReading{
		{ID: 2, Temperature: 22.5},
		{ID: 1, Temperature: 21.0},
	}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/sensors?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body struct {
		Readings []storage.TelemetryReading `json:"readings"`
		Count    int                        `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Count != 2 || len(body.Readings) != 2 {
		t.Errorf("count = %d/%d, want 2", body.Count, len(body.Readings))
	}
}

func TestListSensorsBadLimit(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/sensors?limit=abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestLatestSensorEmpty(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/sensors/latest", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d with no data, want %d", w.Code, http.StatusNotFound)
	}
}

func TestLatestSensor(t *testing.T) {
	srv, store, _ := testServer(t)
	store.latest = &storage.TelemetryReading{ID: 9, Temperature: 23.5}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/sensors/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var reading storage.TelemetryReading
	if err := json.Unmarshal(w.Body.Bytes(), &reading); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if reading.ID != 9 {
		t.Errorf("reading id = %d, want 9", reading.ID)
	}
}

func TestSensorChartBadHours(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/sensors/chart?hours=-1", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// =============================================================================
// Device Endpoint Tests
// =============================================================================

func TestAllDeviceStatusDefaults(t *testing.T) {
	srv, store, _ := testServer(t)
	store.latestStatus["led-phong-khach"] = storage.DeviceStatus{
		DeviceID:  "led-phong-khach",
		Status:    "on",
		UpdatedAt: time.Now().UTC(),
	}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/devices/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Devices []deviceStatusView `json:"devices"`
		Count   int                `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	// Every configured device appears; those without history default off.
	if body.Count != 3 {
		t.Fatalf("count = %d, want 3", body.Count)
	}
	for _, view := range body.Devices {
		switch view.DeviceID {
		case "led-phong-khach":
			if view.Status != "on" || view.UpdatedAt == nil {
				t.Errorf("led-phong-khach view = %+v, want on with timestamp", view)
			}
		default:
			if view.Status != "off" || view.UpdatedAt != nil {
				t.Errorf("%s view = %+v, want default off", view.DeviceID, view)
			}
		}
	}
}

func TestDeviceStatusUnknownDevice(t *testing.T) {
	srv, _, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/devices/led-gara/status", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListControlsFilter(t *testing.T) {
	srv, store, _ := testServer(t)
	store.records = []storage.ControlRecord{{ID: 1, DeviceID: "led-nha-bep"}}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/devices/controls?deviceId=led-nha-bep", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if store.listDeviceFilter != "led-nha-bep" {
		t.Errorf("device filter = %q, want led-nha-bep", store.listDeviceFilter)
	}
}

func TestDeviceControl(t *testing.T) {
	srv, _, br := testServer(t)
	br.result = bridge.ControlResult{
		DeviceID: "led-nha-bep",
		Action:   "toggle",
		Status:   "on",
		RecordID: 5,
	}

	w := doRequest(t, srv, http.MethodPost, "/api/v1/devices/led-nha-bep/control", `{"action":"toggle"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if br.controlDevice != "led-nha-bep" || br.controlAction != "toggle" {
		t.Errorf("bridge called with %s/%s, want led-nha-bep/toggle", br.controlDevice, br.controlAction)
	}

	var result bridge.ControlResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if result.RecordID != 5 || result.Status != "on" {
		t.Errorf("result = %+v, want record 5 status on", result)
	}
}

func TestDeviceControlErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		controlErr error
		wantStatus int
	}{
		{"malformed body", `{not json`, nil, http.StatusBadRequest},
		{"invalid request", `{"action":"dim"}`, bridge.ErrInvalidRequest, http.StatusBadRequest},
		{"bridge stopped", `{"action":"on"}`, bridge.ErrNotRunning, http.StatusServiceUnavailable},
		{"bus disconnected", `{"action":"on"}`, bus.ErrNotConnected, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, br := testServer(t)
			br.controlErr = tt.controlErr

			w := doRequest(t, srv, http.MethodPost, "/api/v1/devices/led-nha-bep/control", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// =============================================================================
// WebSocket Endpoint Tests
// =============================================================================

func TestWebSocketUpgrade(t *testing.T) {
	srv, _, br := testServer(t)

	clientHub := hub.New(config.Default().WebSocket, logging.Default())
	t.Cleanup(clientHub.Close)
	br.hub = clientHub

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var frame struct {
		Type     string `json:"type"`
		ClientID string `json:"clientId"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read welcome frame: %v", err)
	}
	if frame.Type != "connection" || frame.ClientID == "" {
		t.Errorf("welcome frame = %+v, want connection with clientId", frame)
	}
}

func TestWebSocketBridgeNotRunning(t *testing.T) {
	srv, _, _ := testServer(t) // fakeBridge.hub is nil

	w := doRequest(t, srv, http.MethodGet, "/api/v1/ws", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
