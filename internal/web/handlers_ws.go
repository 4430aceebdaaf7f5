package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to loopback; no cross-origin surface to defend.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS streams every published snapshot set to the client. A slow
// client receives the latest frame rather than a backlog.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	clientID := uuid.NewString()
	s.log.Info("websocket client connected", "client", clientID, "remote", r.RemoteAddr)
	defer func() {
		conn.Close()
		s.log.Info("websocket client disconnected", "client", clientID)
	}()

	updates := s.broadcast.Subscribe()
	defer s.broadcast.Unsubscribe(updates)

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Initial frame so the client renders without waiting for activity.
	if err := s.writeFrame(conn, s.proc.Sessions()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case snaps, ok := <-updates:
			if !ok {
				return
			}
			if err := s.writeFrame(conn, snaps); err != nil {
				s.log.Debug("websocket write failed", "client", clientID, "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}
