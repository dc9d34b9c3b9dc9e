package hub

import "encoding/json"

// EventKind discriminates the events a hub emits for its observers.
type EventKind int

const (
	// EventClientConnected fires after a session is registered and has
	// received its connection confirmation.
	EventClientConnected EventKind = iota

	// EventClientDisconnected fires after a session is removed, whether
	// by client close or liveness eviction.
	EventClientDisconnected

	// EventControlRequest fires when a session sends a well-formed
	// device_control frame. The hub has already acknowledged receipt;
	// the consumer owns the outcome.
	EventControlRequest

	// EventPublishRequest fires when a session asks for a raw payload to
	// be forwarded to the bus.
	EventPublishRequest
)

// Event is the hub's outbound notification. The supervisor consumes these
// and drives the orchestrator and the bus; the hub itself never touches
// either.
type Event struct {
	Kind      EventKind
	SessionID string

	// Control request fields (EventControlRequest).
	DeviceID string
	Action   string

	// Publish request fields (EventPublishRequest).
	Topic   string
	Payload json.RawMessage
}
