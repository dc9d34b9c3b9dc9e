package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vantran-dev/homestream-core/internal/hub"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/config"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/logging"
	"github.com/vantran-dev/homestream-core/internal/storage"
)

// Device actions accepted by the orchestrator.
const (
	ActionOn     = "on"
	ActionOff    = "off"
	ActionToggle = "toggle"
)

// Status update phases broadcast to clients.
const (
	PhasePending   = "pending"
	PhaseConfirmed = "confirmed"
)

// ControlResult reports the outcome of one control request. The WebSocket
// and HTTP paths both return this shape.
type ControlResult struct {
	DeviceID  string    `json:"deviceId"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	RecordID  int64     `json:"recordId"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusUpdate is the payload broadcast on the device_status client topic.
type StatusUpdate struct {
	DeviceID  string    `json:"deviceId"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// commandPayload is the frame published to the device-control bus topic.
type commandPayload struct {
	DeviceID  string `json:"deviceId"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// Orchestrator turns {deviceId, action} requests into definite
// {deviceId, status} outcomes.
//
// Each request runs a fresh sequence: validate, resolve toggle against the
// last persisted status, broadcast an optimistic pending update, publish
// the command to the bus, persist the attempt. The contract is
// at-most-once and best-effort: a failed publish is surfaced to the caller
// but the pending broadcast is not rolled back; reconciliation relies on
// the device's own status report.
type Orchestrator struct {
	devices map[string]struct{}
	topics  config.MQTTTopicsConfig
	store   Storage
	clients ClientHub
	bus     Bus
	logger  *logging.Logger
}

// NewOrchestrator creates an orchestrator over the given collaborators.
//
// Parameters:
//   - devices: The closed set of controllable device ids
//   - topics: Bus topic names from config.yaml
//   - store: Persistence for control records and last-known status
//   - clients: Hub used for optimistic status broadcasts
//   - busConn: Bus used to publish device commands
//   - logger: Logger for request outcomes
func NewOrchestrator(devices []string, topics config.MQTTTopicsConfig, store Storage, clients ClientHub, busConn Bus, logger *logging.Logger) *Orchestrator {
	known := make(map[string]struct{}, len(devices))
	for _, id := range devices {
		known[id] = struct{}{}
	}
	return &Orchestrator{
		devices: known,
		topics:  topics,
		store:   store,
		clients: clients,
		bus:     busConn,
		logger:  logger,
	}
}

// Control executes one device control request.
//
// Two concurrent toggles for the same device may read the same prior
// status and resolve identically; the persisted record is last-writer-wins
// rather than a compare-and-swap. Known behavior, kept deliberately.
//
// Parameters:
//   - ctx: Context for the storage read and write
//   - deviceID: Target device, must be in the configured set
//   - action: "on", "off", or "toggle"
//
// Returns:
//   - ControlResult: The resolved outcome; populated even when err is a
//     publish failure, since the pending broadcast and the persisted
//     record still happened
//   - error: ErrInvalidRequest, or the publish/persist failure
func (o *Orchestrator) Control(ctx context.Context, deviceID, action string) (ControlResult, error) {
	if _, ok := o.devices[deviceID]; !ok {
		return ControlResult{}, fmt.Errorf("%w: unknown device %q", ErrInvalidRequest, deviceID)
	}
	if action != ActionOn && action != ActionOff && action != ActionToggle {
		return ControlResult{}, fmt.Errorf("%w: unsupported action %q", ErrInvalidRequest, action)
	}

	now := time.Now().UTC()
	status, err := o.resolveStatus(ctx, deviceID, action)
	if err != nil {
		return ControlResult{}, err
	}

	// Optimistic: clients see the attempt before the publish settles.
	o.clients.Broadcast(hub.TopicDeviceStatus, StatusUpdate{
		DeviceID:  deviceID,
		Action:    action,
		Status:    status,
		Phase:     PhasePending,
		Timestamp: now,
	})

	var publishErr error
	payload, err := json.Marshal(commandPayload{
		DeviceID:  deviceID,
		Action:    action,
		Timestamp: now.Format(time.RFC3339),
	})
	if err != nil {
		publishErr = fmt.Errorf("marshalling command: %w", err)
	} else if err := o.bus.Publish(o.topics.DeviceControl, payload); err != nil {
		publishErr = err
	}
	if publishErr != nil {
		o.logger.Warn("device command publish failed",
			"device_id", deviceID,
			"action", action,
			"error", publishErr,
		)
	}

	// Persist regardless of the publish outcome: the record documents the
	// attempt, and last-known status must reflect what clients were told.
	result := ControlResult{
		DeviceID:  deviceID,
		Action:    action,
		Status:    status,
		Timestamp: now,
	}
	recordID, persistErr := o.store.AppendControlRecord(ctx, storage.ControlRecord{
		DeviceID:  deviceID,
		Action:    action,
		Status:    status,
		Source:    storage.SourceCommand,
		CreatedAt: now,
	})
	if persistErr != nil {
		o.logger.Error("control record persist failed", "device_id", deviceID, "error", persistErr)
	}
	result.RecordID = recordID

	o.logger.Info("device control handled",
		"device_id", deviceID,
		"action", action,
		"status", status,
		"record_id", recordID,
		"published", publishErr == nil,
	)
	return result, errors.Join(publishErr, persistErr)
}

// resolveStatus maps the requested action to an absolute status.
//
// Toggle re-reads the last persisted status on every request; there is no
// in-memory cache to go stale across restarts. A missing record, or a
// briefly unavailable store, resolves to "on".
func (o *Orchestrator) resolveStatus(ctx context.Context, deviceID, action string) (string, error) {
	if action != ActionToggle {
		return action, nil
	}

	last, err := o.store.LastStatus(ctx, deviceID)
	if err != nil {
		o.logger.Warn("last status read failed, toggling from unknown", "device_id", deviceID, "error", err)
		return ActionOn, nil
	}
	if last != nil && last.Status == ActionOn {
		return ActionOff, nil
	}
	return ActionOn, nil
}
