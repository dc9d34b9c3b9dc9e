// Package hub tracks live WebSocket client sessions for the realtime
// bridge.
//
// The hub owns the session registry exclusively: it registers sessions on
// accept, routes their inbound frames (subscribe, unsubscribe, ping,
// device_control, publish), fans outbound broadcasts to subscribed
// sessions, and evicts clients that stop answering liveness probes.
//
// # Architecture
//
// The hub deliberately knows nothing about the message bus. Inbound
// control and publish requests surface as typed values on the Events()
// channel; the bridge supervisor consumes them and drives the
// orchestrator and bus connection. Outbound data reaches clients only
// through Broadcast. This keeps the coupling between the client side and
// the bus side in exactly one place.
//
// Liveness uses a two-phase mark/check cycle: each probe interval clears
// every session's alive flag and pings it; a session whose flag is still
// clear at the next interval is evicted. A client may miss one cycle but
// not two, bounding stale-connection retention to twice the probe
// interval.
//
// # Usage
//
//	h := hub.New(cfg.WebSocket, logger)
//	session, err := h.Accept(conn, r.RemoteAddr, r.UserAgent())
//	...
//	h.Broadcast("sensor_data", reading)
//	h.Close()
package hub
