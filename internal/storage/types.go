package storage

import "time"

// Control record sources.
const (
	// SourceCommand marks records written for commands the bridge issued.
	SourceCommand = "command"

	// SourceDevice marks records reflecting a device's self-reported state.
	SourceDevice = "device"
)

// TelemetryReading is one persisted sensor sample.
type TelemetryReading struct {
	ID             int64     `json:"id"`
	Temperature    float64   `json:"temperature"`
	Humidity       float64   `json:"humidity"`
	LightIntensity float64   `json:"light_intensity"`
	CreatedAt      time.Time `json:"created_at"`
}

// ControlRecord is one persisted device control entry: either a command the
// bridge issued or a status update the device reported itself.
type ControlRecord struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeviceStatus is the last known state of a device, derived from its most
// recent control record.
type DeviceStatus struct {
	DeviceID  string    `json:"deviceId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stats summarizes stored row counts for the stats endpoint.
type Stats struct {
	TelemetryCount int64 `json:"telemetryCount"`
	ControlCount   int64 `json:"controlCount"`
}
