// Package bus manages the bridge's connection to the MQTT message broker.
//
// This package owns:
//   - The connection lifecycle state machine (Disconnected, Connecting,
//     Connected, Reconnecting, ShuttingDown)
//   - Bounded fixed-interval reconnection: after the configured maximum of
//     consecutive failed attempts the connection stops retrying and reports
//     a terminal failure instead of crashing the process
//   - Per-topic inbound handler dispatch with JSON validation and error
//     isolation
//   - Outbound publishing with a fail-fast ErrNotConnected contract
//
// # Architecture
//
// The broker decouples the bridge from sensors and device firmware:
//
//	sensors / device firmware ↔ MQTT broker ↔ Homestream bridge
//
// Paho's built-in auto-reconnect is deliberately disabled. All reconnect
// state lives in one state machine with a single lock, so the attempt
// counter can never be mutated from two callback sites at once and at most
// one attempt is ever in flight.
//
// # Usage
//
//	conn := bus.New(cfg.MQTT, logger)
//	conn.Handle("sensor/data", func(topic string, payload []byte) error {
//	    return processReading(payload)
//	})
//	if err := conn.Connect(ctx); err != nil {
//	    return err
//	}
//	defer conn.Disconnect()
//
//	err = conn.Publish("device/control", []byte(`{"deviceId":"led-nha-bep","action":"on"}`))
package bus
