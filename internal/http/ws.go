package http

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/bridge/internal/hub"
	"github.com/xiaot623/gogo/bridge/internal/session"
)

// handleWebSocket subscribes a UI to the event feed. The first event is a
// full snapshot; state events follow as the session changes.
func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[ws] failed to upgrade subscriber: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	ws.SetReadLimit(s.opts.MaxMessageSize)

	var snap session.Snapshot
	if err := s.call(c, func() error {
		snap = s.sess.Snapshot()
		return nil
	}); err == nil {
		_ = s.hub.SendJSONToConnection(conn, session.Event{
			Type:      session.EventSnapshot,
			SessionID: snap.SessionID,
			Ts:        time.Now().UnixMilli(),
			Data:      snap,
		})
	}
	s.hub.Register(conn)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump keeps the subscriber alive. Subscribers only listen; anything
// they send is discarded.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] subscriber error: %v", err)
			}
			return
		}
	}
}

// writePump writes events to the subscriber.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[ws] failed to write event: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
