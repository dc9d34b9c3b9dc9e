package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vantran-dev/homestream-core/internal/hub"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/logging"
	"github.com/vantran-dev/homestream-core/internal/storage"
)

// telemetryEvent is the sensor payload published on the telemetry bus topic.
type telemetryEvent struct {
	Temperature    float64 `json:"temperature"`
	Humidity       float64 `json:"humidity"`
	LightIntensity float64 `json:"light_intensity"`
	Timestamp      any     `json:"timestamp"`
}

// deviceStatusEvent is the payload a device publishes on the status topic
// after acting on a command (or a physical switch press).
type deviceStatusEvent struct {
	DeviceID  string `json:"deviceId"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Timestamp any    `json:"timestamp"`
}

// Relay classifies inbound bus messages and fans them out.
//
// Broadcast first, persist second: clients should see live data even when
// a write fails, so persistence errors are logged and swallowed here. The
// optional mirror gets a copy of everything.
type Relay struct {
	store   Storage
	clients ClientHub
	mirror  TelemetryMirror
	logger  *logging.Logger
}

// NewRelay creates a relay over the given collaborators. The mirror may be
// nil.
func NewRelay(store Storage, clients ClientHub, mirror TelemetryMirror, logger *logging.Logger) *Relay {
	return &Relay{
		store:   store,
		clients: clients,
		mirror:  mirror,
		logger:  logger,
	}
}

// HandleTelemetry processes one message from the telemetry bus topic.
//
// The raw payload is forwarded verbatim to clients on the sensor_data
// topic, then persisted. Registered as a bus message handler, so the
// payload has already passed JSON validation.
func (r *Relay) HandleTelemetry(topic string, payload []byte) error {
	r.clients.Broadcast(hub.TopicSensorData, json.RawMessage(payload))

	var event telemetryEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("parsing telemetry payload: %w", err)
	}
	at := eventTime(event.Timestamp)

	if _, err := r.store.AppendTelemetry(context.Background(), storage.TelemetryReading{
		Temperature:    event.Temperature,
		Humidity:       event.Humidity,
		LightIntensity: event.LightIntensity,
		CreatedAt:      at,
	}); err != nil {
		// Broadcast already happened; a failed write must not hide live data.
		r.logger.Error("telemetry persist failed", "topic", topic, "error", err)
	}

	if r.mirror != nil {
		r.mirror.WriteSensorReading(event.Temperature, event.Humidity, event.LightIntensity, at)
	}
	return nil
}

// HandleDeviceStatus processes one message from the device-status bus
// topic.
//
// The payload is forwarded to clients on the device_status topic, then
// appended to control history with source "device" so self-reported state
// stays distinct from commands the orchestrator issued.
func (r *Relay) HandleDeviceStatus(topic string, payload []byte) error {
	r.clients.Broadcast(hub.TopicDeviceStatus, json.RawMessage(payload))

	var event deviceStatusEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("parsing device status payload: %w", err)
	}
	if event.DeviceID == "" {
		return fmt.Errorf("device status payload missing deviceId")
	}
	at := eventTime(event.Timestamp)

	if _, err := r.store.AppendControlRecord(context.Background(), storage.ControlRecord{
		DeviceID:  event.DeviceID,
		Action:    event.Action,
		Status:    event.Status,
		Source:    storage.SourceDevice,
		CreatedAt: at,
	}); err != nil {
		r.logger.Error("device status persist failed", "device_id", event.DeviceID, "error", err)
	}

	if r.mirror != nil {
		r.mirror.WriteDeviceState(event.DeviceID, event.Status, at)
	}
	return nil
}

// eventTime coerces a payload timestamp into a time.Time.
//
// Device firmware sends either an RFC 3339 string or a unix epoch number
// (seconds or milliseconds); anything unparseable falls back to now.
func eventTime(value any) time.Time {
	switch v := value.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts.UTC()
		}
	case float64:
		// Heuristic: values this large are milliseconds.
		if v > 1e12 {
			return time.UnixMilli(int64(v)).UTC()
		}
		if v > 0 {
			return time.Unix(int64(v), 0).UTC()
		}
	}
	return time.Now().UTC()
}
