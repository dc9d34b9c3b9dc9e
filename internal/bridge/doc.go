// Package bridge is the realtime core: it moves telemetry from the
// message bus to dashboard clients and control commands from clients to
// device firmware.
//
// # Architecture
//
// Three collaborators with one composer:
//
//   - Orchestrator resolves {deviceId, action} requests into absolute
//     statuses, broadcasts an optimistic pending update, publishes the
//     command, and persists the attempt.
//   - Relay classifies inbound bus messages (telemetry, device status)
//     and fans each out to clients and to storage.
//   - Supervisor composes the bus connection, the client hub, the
//     orchestrator and the relay, owns start/stop/restart, and pumps hub
//     events onward. It is the only component that knows both sides.
//
// Coupling is message passing: the hub emits typed events, the supervisor
// consumes them, and no component touches another's internals. Storage
// failures never break the realtime path; clients keep receiving live
// data while writes are down.
package bridge
