// Package hub fans UI events out to the websocket subscribers of the
// control API.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/bridge/internal/session"
)

// ErrBufferFull is returned when a subscriber's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

const sendBuffer = 256

// Connection is one UI subscriber.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	mu   sync.Mutex
}

// Hub tracks subscribers and broadcasts events to all of them.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan []byte
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done. Every
// subscriber's send channel is closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.Send)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			log.Printf("[ws] subscriber registered: %s", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("[ws] subscriber unregistered: %s", conn.ID)

		case data := <-h.broadcast:
			h.mu.Lock()
			for id, conn := range h.connections {
				select {
				case conn.Send <- data:
				default:
					// Slow subscriber.
					log.Printf("[ws] subscriber %s buffer full, dropping it", id)
					delete(h.connections, id)
					close(conn.Send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// NewConnection wraps an upgraded websocket. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, sendBuffer),
	}
}

// Register adds a subscriber. Once Run has returned the subscriber's send
// channel is closed instead.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister removes a subscriber and closes its send channel. It returns
// immediately once Run has returned.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Publish implements session.EventSink. It never blocks: events are dropped
// when the broadcast queue is full.
func (h *Hub) Publish(ev session.Event) {
	if err := h.BroadcastJSON(ev); err != nil {
		log.Printf("[ws] WARN: dropping %s event: %v", ev.Type, err)
	}
}

// BroadcastJSON queues v for every subscriber.
func (h *Hub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection queues v for one subscriber.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// GetConnectionCount returns the number of subscribers.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
