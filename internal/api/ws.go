// ABOUTME: Websocket endpoint streaming live session messages to dashboard and widget clients
// ABOUTME: One connection subscribes to exactly one session room on the hub

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soukbot/chat-gateway/internal/message"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before dropping the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// handleLiveConnection upgrades GET /api/chat to a websocket and streams
// every message appended to the requested session, one JSON frame per
// message. Client frames are discarded; the socket is delivery-only.
func (s *Server) handleLiveConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "session_id query parameter is required")
		return
	}
	// merchant_id is optional context for the logs; the subscription is
	// keyed by session alone.
	merchantID := r.URL.Query().Get("merchant_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err, "session_id", sessionID)
		return
	}

	messages, subID := s.hub.Subscribe(r.Context(), sessionID)
	s.logger.Info("live client connected",
		"session_id", sessionID,
		"merchant_id", merchantID,
		"subscriber_id", subID,
		"remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go s.readPump(conn, sessionID, done)
	s.writePump(conn, sessionID, subID, messages, done)
}

// readPump drains and discards client frames so control messages (close,
// pong) are processed, and signals done when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, sessionID string, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "error", err, "session_id", sessionID)
			}
			return
		}
	}
}

// writePump forwards hub messages to the peer and keeps the connection
// alive with periodic pings.
func (s *Server) writePump(conn *websocket.Conn, sessionID, subID string, messages <-chan message.Message, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.hub.Unsubscribe(sessionID, subID)
		_ = conn.Close()
		s.logger.Info("live client disconnected",
			"session_id", sessionID,
			"subscriber_id", subID)
	}()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", "error", err, "session_id", sessionID)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
