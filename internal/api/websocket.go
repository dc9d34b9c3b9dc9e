package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader configures the WebSocket upgrade. Origin checking follows the
// CORS middleware's open policy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleWebSocket upgrades the connection and hands it to the client hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	h := s.bridge.Hub()
	if h == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "bridge is not running")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	if _, err := h.Accept(conn, r.RemoteAddr, r.UserAgent()); err != nil {
		s.logger.Warn("websocket accept rejected", "error", err)
		conn.Close()
	}
}
