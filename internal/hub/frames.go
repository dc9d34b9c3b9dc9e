package hub

import "encoding/json"

// Client-facing frame kinds. One JSON object per WebSocket frame.
const (
	FrameConnection  = "connection"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSubscribed  = "subscription"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameControl     = "device_control"
	FrameControlAck  = "device_control_ack"
	FramePublish     = "publish"
	FrameBroadcast   = "broadcast"
	FrameError       = "error"
)

// Client-facing topics. These are application-level names the dashboard
// subscribes to; the mapping from bus topics happens in the relay, never
// here.
const (
	TopicSensorData   = "sensor_data"
	TopicDeviceStatus = "device_status"
)

// Frame is the wire format shared by every client-facing message. Fields
// are populated per kind; unused fields are omitted.
type Frame struct {
	Type string `json:"type"`

	// Connection confirmation.
	ClientID   string `json:"clientId,omitempty"`
	ServerTime string `json:"serverTime,omitempty"`

	// Subscribe / unsubscribe / broadcast routing.
	Topic string `json:"topic,omitempty"`

	// Device control.
	DeviceID string `json:"deviceId,omitempty"`
	Action   string `json:"action,omitempty"`
	Status   string `json:"status,omitempty"`

	// Publish passthrough and broadcast payloads.
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    any             `json:"data,omitempty"`

	// Error replies.
	Message string `json:"message,omitempty"`

	Timestamp string `json:"timestamp,omitempty"`
}
