package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vantran-dev/homestream-core/internal/bus"
	"github.com/vantran-dev/homestream-core/internal/hub"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/config"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/logging"
	"github.com/vantran-dev/homestream-core/internal/storage"
)

var testDevices = []string{"led-phong-khach", "led-phong-ngu", "led-nha-bep"}

func testOrchestrator(store *fakeStore, clients *fakeHub, busConn *fakeBus) *Orchestrator {
	return NewOrchestrator(testDevices, config.Default().MQTT.Topics, store, clients, busConn, logging.Default())
}

func TestControlDirectAction(t *testing.T) {
	store := newFakeStore()
	clients := newFakeHub()
	busConn := newFakeBus()
	orchestrator := testOrchestrator(store, clients, busConn)

	result, err := orchestrator.Control(context.Background(), "led-phong-khach", ActionOff)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	if result.Status != ActionOff {
		t.Errorf("result status = %q, want off", result.Status)
	}
	if result.RecordID != 1 {
		t.Errorf("result record id = %d, want 1", result.RecordID)
	}
	if store.lastStatusCalls != 0 {
		t.Errorf("LastStatus called %d times for a direct action, want 0", store.lastStatusCalls)
	}

	// Pending broadcast on the device status topic.
	broadcasts := clients.broadcastLog()
	if len(broadcasts) != 1 {
		t.Fatalf("broadcast count = %d, want 1", len(broadcasts))
	}
	if broadcasts[0].topic != hub.TopicDeviceStatus {
		t.Errorf("broadcast topic = %q, want %q", broadcasts[0].topic, hub.TopicDeviceStatus)
	}
	update, ok := broadcasts[0].data.(StatusUpdate)
	if !ok {
		t.Fatalf("broadcast data type = %T, want StatusUpdate", broadcasts[0].data)
	}
	if update.Phase != PhasePending || update.Status != ActionOff {
		t.Errorf("broadcast update = %+v, want pending/off", update)
	}

	// Command published to the control topic.
	publishes := busConn.publishes()
	if len(publishes) != 1 {
		t.Fatalf("publish count = %d, want 1", len(publishes))
	}
	if publishes[0].topic != "device/control" {
		t.Errorf("publish topic = %q, want device/control", publishes[0].topic)
	}
	var command map[string]string
	if err := json.Unmarshal(publishes[0].payload, &command); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if command["deviceId"] != "led-phong-khach" || command["action"] != "off" {
		t.Errorf("command = %v, want led-phong-khach/off", command)
	}

	// The attempt is the authoritative record.
	records := store.records()
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	if records[0].Status != ActionOff || records[0].Source != storage.SourceCommand {
		t.Errorf("record = %+v, want off/command", records[0])
	}
}

func TestControlToggle(t *testing.T) {
	tests := []struct {
		name       string
		lastStatus *storage.DeviceStatus
		want       string
	}{
		{"from on", &storage.DeviceStatus{DeviceID: "led-phong-ngu", Status: "on"}, ActionOff},
		{"from off", &storage.DeviceStatus{DeviceID: "led-phong-ngu", Status: "off"}, ActionOn},
		{"no history", nil, ActionOn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			if tt.lastStatus != nil {
				store.lastStatus["led-phong-ngu"] = tt.lastStatus
			}
			orchestrator := testOrchestrator(store, newFakeHub(), newFakeBus())

			result, err := orchestrator.Control(context.Background(), "led-phong-ngu", ActionToggle)
			if err != nil {
				t.Fatalf("Control() error = %v", err)
			}
			if result.Status != tt.want {
				t.Errorf("resolved status = %q, want %q", result.Status, tt.want)
			}
			// The record stores the resolved status, not "toggle".
			if records := store.records(); records[0].Status != tt.want {
				t.Errorf("record status = %q, want %q", records[0].Status, tt.want)
			}
		})
	}
}

func TestControlToggleStorageUnavailable(t *testing.T) {
	store := newFakeStore()
	store.lastStatusErr = errors.New("database locked")
	orchestrator := testOrchestrator(store, newFakeHub(), newFakeBus())

	result, err := orchestrator.Control(context.Background(), "led-nha-bep", ActionToggle)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	if result.Status != ActionOn {
		t.Errorf("status = %q with storage down, want on", result.Status)
	}
}

func TestControlInvalidRequest(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		action   string
	}{
		{"unknown device", "led-gara", ActionOn},
		{"bad action", "led-phong-khach", "dim"},
		{"empty action", "led-phong-khach", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			clients := newFakeHub()
			busConn := newFakeBus()
			orchestrator := testOrchestrator(store, clients, busConn)

			_, err := orchestrator.Control(context.Background(), tt.deviceID, tt.action)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("Control() error = %v, want ErrInvalidRequest", err)
			}
			if len(clients.broadcastLog()) != 0 {
				t.Error("broadcast sent for an invalid request")
			}
			if len(busConn.publishes()) != 0 {
				t.Error("command published for an invalid request")
			}
			if len(store.records()) != 0 {
				t.Error("record persisted for an invalid request")
			}
		})
	}
}

func TestControlPublishFailure(t *testing.T) {
	store := newFakeStore()
	clients := newFakeHub()
	busConn := newFakeBus()
	busConn.publishErr = bus.ErrNotConnected
	orchestrator := testOrchestrator(store, clients, busConn)

	result, err := orchestrator.Control(context.Background(), "led-nha-bep", ActionOn)
	if !errors.Is(err, bus.ErrNotConnected) {
		t.Fatalf("Control() error = %v, want ErrNotConnected", err)
	}

	// Pending broadcast and persisted record still happen; the failure is
	// surfaced distinctly, not rolled back.
	if len(clients.broadcastLog()) != 1 {
		t.Error("pending broadcast missing despite publish failure")
	}
	records := store.records()
	if len(records) != 1 {
		t.Fatal("control record missing despite publish failure")
	}
	if result.RecordID != records[0].ID {
		t.Errorf("result record id = %d, want %d", result.RecordID, records[0].ID)
	}
}

func TestControlPersistFailure(t *testing.T) {
	store := newFakeStore()
	store.controlErr = errors.New("disk full")
	orchestrator := testOrchestrator(store, newFakeHub(), newFakeBus())

	result, err := orchestrator.Control(context.Background(), "led-nha-bep", ActionOn)
	if err == nil {
		t.Fatal("Control() error = nil, want persist failure")
	}
	if result.Status != ActionOn {
		t.Errorf("result status = %q, want on despite persist failure", result.Status)
	}
	if result.RecordID != 0 {
		t.Errorf("result record id = %d, want 0", result.RecordID)
	}
}

func TestControlTimestampIsRecent(t *testing.T) {
	orchestrator := testOrchestrator(newFakeStore(), newFakeHub(), newFakeBus())

	before := time.Now().UTC()
	result, err := orchestrator.Control(context.Background(), "led-phong-khach", ActionOn)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	if result.Timestamp.Before(before) || result.Timestamp.After(time.Now().UTC()) {
		t.Errorf("timestamp %v outside request window", result.Timestamp)
	}
}
