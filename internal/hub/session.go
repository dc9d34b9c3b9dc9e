package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 10 * time.Second

// Session represents one live client connection.
//
// The hub exclusively owns the session registry; a session handle obtained
// from Accept is only valid for wiring, not for retention. Connection
// metadata is captured at creation and immutable afterwards.
type Session struct {
	// ID is an opaque identifier, unique for the process lifetime.
	ID string

	// RemoteAddr and UserAgent are captured at accept time.
	RemoteAddr string
	UserAgent  string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]struct{}
	alive  bool
}

// subscribe adds a topic to the session's subscription set.
func (s *Session) subscribe(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

// unsubscribe removes a topic from the session's subscription set.
func (s *Session) unsubscribe(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// isSubscribed reports whether the session's set contains the topic.
func (s *Session) isSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.topics[topic]
	return ok
}

// markAlive records that the session responded since the last probe cycle.
func (s *Session) markAlive() {
	s.mu.Lock()
	s.alive = true
	s.mu.Unlock()
}

// checkAndClear returns the liveness flag and clears it for the next cycle.
func (s *Session) checkAndClear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.alive
	s.alive = false
	return was
}

// trySend queues a frame for delivery without blocking.
//
// Returns false when the client's buffer is full or its send channel has
// already been closed; a slow or dying client never stalls a broadcast.
func (s *Session) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// sendFrame marshals and queues a single frame for this session only.
func (s *Session) sendFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.trySend(data)
}

// sendError sends an error frame to this session only. Another client's
// failure is never visible here.
func (s *Session) sendError(message string) {
	s.sendFrame(Frame{Type: FrameError, Message: message})
}

// readPump reads frames from the connection until it closes, then removes
// the session from the hub.
func (s *Session) readPump() {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(int64(s.hub.cfg.MaxMessageSize))
	s.conn.SetPongHandler(func(string) error {
		s.markAlive()
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("client read error", "session_id", s.ID, "error", err)
			} else {
				s.hub.logger.Debug("client closed", "session_id", s.ID)
			}
			return
		}
		// Any traffic counts as a probe response.
		s.markAlive()
		s.hub.handleMessage(s, message)
	}
}

// writePump drains the send channel onto the connection. It exits when the
// hub closes the channel or a write fails.
func (s *Session) writePump() {
	defer s.conn.Close()

	for message := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // write error caught below
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	// Hub closed the channel during shutdown.
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // best-effort close
	s.conn.WriteMessage(websocket.CloseMessage,           //nolint:errcheck // best-effort close
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}
