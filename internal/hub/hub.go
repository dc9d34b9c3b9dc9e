package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vantran-dev/homestream-core/internal/infrastructure/config"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/logging"
)

// ErrHubClosed is returned by Accept once Close has been called.
var ErrHubClosed = errors.New("hub: closed")

// eventBufferSize bounds the outbound event queue. When a consumer falls
// this far behind, further events are dropped with a warning rather than
// blocking a session's read loop.
const eventBufferSize = 64

// Hub owns the set of live client sessions.
//
// It routes inbound client frames, fans out broadcasts to subscribed
// sessions, and evicts sessions that stop answering liveness probes. The
// hub knows nothing about the bus: control and publish requests surface as
// typed events on Events() for the supervisor to wire onward.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	events chan Event
	stop   chan struct{}
}

// New creates a hub and starts its liveness prober.
//
// Parameters:
//   - cfg: WebSocket configuration from config.yaml
//   - logger: Logger for session lifecycle and routing events
//
// Returns:
//   - *Hub: Running hub, ready to accept sessions
func New(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		events:   make(chan Event, eventBufferSize),
		stop:     make(chan struct{}),
	}
	go h.probeLoop()
	return h
}

// Events returns the hub's outbound event stream. The channel is closed by
// Close after the last session is gone.
func (h *Hub) Events() <-chan Event {
	return h.events
}

// Accept registers an upgraded connection as a new session.
//
// The session immediately receives a connection frame carrying its id and
// the server time, observers receive a client-connected event, and the
// read/write pumps start.
//
// Parameters:
//   - conn: The upgraded WebSocket connection
//   - remoteAddr: Client address, captured as immutable metadata
//   - userAgent: Client user agent, captured as immutable metadata
//
// Returns:
//   - *Session: The registered session
//   - error: ErrHubClosed when the hub is shutting down
func (h *Hub) Accept(conn *websocket.Conn, remoteAddr, userAgent string) (*Session, error) {
	session := &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		UserAgent:  userAgent,
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.cfg.SendBuffer),
		topics:     make(map[string]struct{}),
		alive:      true,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.sessions[session.ID] = session
	count := len(h.sessions)
	h.mu.Unlock()

	go session.writePump()

	session.sendFrame(Frame{
		Type:       FrameConnection,
		ClientID:   session.ID,
		ServerTime: time.Now().UTC().Format(time.RFC3339),
	})
	h.emit(Event{Kind: EventClientConnected, SessionID: session.ID})
	h.logger.Info("client connected", "session_id", session.ID, "remote_addr", remoteAddr, "sessions", count)

	go session.readPump()

	return session, nil
}

// remove unregisters a session. Only the caller that actually removes it
// from the registry closes the send channel, so shutdown and read-loop exit
// cannot double-close.
func (h *Hub) remove(session *Session) {
	h.mu.Lock()
	_, existed := h.sessions[session.ID]
	delete(h.sessions, session.ID)
	count := len(h.sessions)
	h.mu.Unlock()

	if !existed {
		return
	}
	close(session.send)
	h.emit(Event{Kind: EventClientDisconnected, SessionID: session.ID})
	h.logger.Info("client disconnected", "session_id", session.ID, "sessions", count)
}

// handleMessage routes one inbound frame from a session.
//
// A malformed frame earns that session an error reply and nothing else; it
// never disconnects the client or touches other sessions.
func (h *Hub) handleMessage(session *Session, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		session.sendError("invalid JSON message")
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		if frame.Topic == "" {
			session.sendError("subscribe requires a topic")
			return
		}
		session.subscribe(frame.Topic)
		session.sendFrame(Frame{Type: FrameSubscribed, Topic: frame.Topic, Status: "subscribed"})
		h.logger.Debug("client subscribed", "session_id", session.ID, "topic", frame.Topic)

	case FrameUnsubscribe:
		if frame.Topic == "" {
			session.sendError("unsubscribe requires a topic")
			return
		}
		session.unsubscribe(frame.Topic)
		session.sendFrame(Frame{Type: FrameSubscribed, Topic: frame.Topic, Status: "unsubscribed"})

	case FramePing:
		session.sendFrame(Frame{Type: FramePong, ServerTime: time.Now().UTC().Format(time.RFC3339)})

	case FrameControl:
		if frame.DeviceID == "" || frame.Action == "" {
			session.sendError("device_control requires deviceId and action")
			return
		}
		// Ack receipt immediately; the definite outcome arrives later as a
		// status broadcast.
		session.sendFrame(Frame{
			Type:     FrameControlAck,
			DeviceID: frame.DeviceID,
			Action:   frame.Action,
			Status:   "received",
		})
		h.emit(Event{
			Kind:      EventControlRequest,
			SessionID: session.ID,
			DeviceID:  frame.DeviceID,
			Action:    frame.Action,
		})

	case FramePublish:
		if frame.Topic == "" || len(frame.Payload) == 0 {
			session.sendError("publish requires a topic and payload")
			return
		}
		h.emit(Event{
			Kind:      EventPublishRequest,
			SessionID: session.ID,
			Topic:     frame.Topic,
			Payload:   frame.Payload,
		})

	default:
		session.sendError("unknown message type: " + frame.Type)
	}
}

// Broadcast fans a frame out to every session subscribed to the topic, or
// to all sessions when the topic is empty.
//
// Individual send failures (full buffer, closing session) are skipped and
// never abort the broadcast.
//
// Parameters:
//   - topic: Client-facing topic selecting recipients; "" means everyone
//   - data: Payload placed in the frame's data field
//
// Returns:
//   - int: Number of sessions the frame was queued for
func (h *Hub) Broadcast(topic string, data any) int {
	frame := Frame{
		Type:      FrameBroadcast,
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "topic", topic, "error", err)
		return 0
	}

	// Snapshot under lock, send outside it.
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mu.RUnlock()

	sent := 0
	for _, session := range sessions {
		if topic != "" && !session.isSubscribed(topic) {
			continue
		}
		if session.trySend(payload) {
			sent++
		}
	}

	if sent > 0 {
		h.logger.Debug("broadcast sent", "topic", topic, "recipients", sent)
	}
	return sent
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close shuts the hub down: no new sessions are accepted, every live
// session is closed with a going-away status, the registry is cleared, and
// liveness probing stops. Safe to call twice.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, session := range sessions {
		close(session.send) // writePump flushes, then sends the going-away close
	}

	close(h.stop)
	close(h.events)
	h.logger.Info("hub closed", "evicted_sessions", len(sessions))
}

// emit queues an event for the consumer, dropping with a warning when the
// buffer is full so a slow consumer cannot stall a session's read loop.
func (h *Hub) emit(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	select {
	case h.events <- event:
	default:
		h.logger.Warn("event buffer full, dropping event", "kind", event.Kind, "session_id", event.SessionID)
	}
}

// probeLoop runs the two-phase liveness check.
//
// Each cycle, a session that failed to respond since the previous cycle is
// evicted; everyone else has their flag cleared and receives a protocol
// ping. A session therefore survives one missed cycle but not two, so a
// stale connection lingers at most twice the probe interval.
func (h *Hub) probeLoop() {
	ticker := time.NewTicker(h.cfg.ProbeIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.probe()
		}
	}
}

// probe runs one liveness cycle over a registry snapshot.
func (h *Hub) probe() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mu.RUnlock()

	for _, session := range sessions {
		if !session.checkAndClear() {
			h.logger.Warn("evicting unresponsive client", "session_id", session.ID)
			session.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // best-effort close before eviction
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "liveness probe timeout"),
				time.Now().Add(writeTimeout))
			session.conn.Close()
			h.remove(session)
			continue
		}
		session.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)) //nolint:errcheck // dead peer caught next cycle
	}
}
