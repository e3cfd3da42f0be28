// Package transport owns the persistent websocket connection to the brain.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/bridge/internal/metrics"
	"github.com/xiaot623/gogo/bridge/internal/protocol"
)

var (
	// ErrChannelNotOpen is returned by sends attempted while the channel is
	// not open. Nothing is queued.
	ErrChannelNotOpen = errors.New("channel not open")
	// ErrBufferFull is returned when the writer cannot keep up.
	ErrBufferFull = errors.New("send buffer full")
)

// Handler receives inbound traffic. Calls are made from the read goroutine,
// one at a time, in the order frames arrived.
type Handler interface {
	// OnMessage receives a decoded control message.
	OnMessage(msg protocol.Inbound)
	// OnBinary receives an audio payload.
	OnBinary(data []byte)
	// OnClose is called once when the channel closes. err is nil when the
	// close was requested locally.
	OnClose(err error)
}

// Options configures a Channel.
type Options struct {
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	MaxMessageSize   int64
	SendBuffer       int
	HandshakeTimeout time.Duration
	Debug            bool
	Metrics          *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.ReadTimeout <= o.PingInterval {
		o.ReadTimeout = o.PingInterval * 2
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 16 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

type frame struct {
	kind int
	data []byte
}

// Channel is an open connection to the brain. Writes are serialized through
// a single writer goroutine; reads happen on a single reader goroutine.
type Channel struct {
	conn    *websocket.Conn
	handler Handler
	opts    Options

	send      chan frame
	open      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to endpoint and starts the read and write pumps.
func Dial(ctx context.Context, endpoint string, h Handler, opts Options) (*Channel, error) {
	opts.setDefaults()
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	c := &Channel{
		conn:    conn,
		handler: h,
		opts:    opts,
		send:    make(chan frame, opts.SendBuffer),
		done:    make(chan struct{}),
	}
	c.open.Store(true)
	opts.Metrics.SetChannelOpen(true)

	go c.writePump()
	go c.readPump()

	log.Printf("[ws] connected to brain at %s", endpoint)
	return c, nil
}

// IsOpen reports whether the channel accepts sends.
func (c *Channel) IsOpen() bool {
	return c != nil && c.open.Load()
}

// Done is closed once the channel has closed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Send queues a control message.
func (c *Channel) Send(msg protocol.Outbound) error {
	if !c.IsOpen() {
		c.dropped("not_open")
		return ErrChannelNotOpen
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.enqueue(frame{kind: websocket.TextMessage, data: data})
}

// SendBinary queues a binary frame (scan image or voice PCM).
func (c *Channel) SendBinary(data []byte) error {
	return c.enqueue(frame{kind: websocket.BinaryMessage, data: data})
}

func (c *Channel) enqueue(f frame) error {
	if !c.IsOpen() {
		c.dropped("not_open")
		return ErrChannelNotOpen
	}
	select {
	case <-c.done:
		c.dropped("not_open")
		return ErrChannelNotOpen
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		c.dropped("buffer_full")
		return ErrBufferFull
	}
}

func (c *Channel) dropped(reason string) {
	if c != nil {
		c.opts.Metrics.FrameDropped(reason)
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	deadline := time.Now().Add(c.opts.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if c.IsOpen() {
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	}
	c.shutdown(nil)
	return nil
}

func (c *Channel) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.opts.Metrics.SetChannelOpen(false)
		close(c.done)
		_ = c.conn.Close()
		if err != nil {
			log.Printf("[ws] connection to brain lost: %v", err)
		} else {
			log.Printf("[ws] connection to brain closed")
		}
		c.handler.OnClose(err)
	})
}

// readPump reads frames until the connection fails.
func (c *Channel) readPump() {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed locally.
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] WebSocket error: %v", err)
			}
			c.shutdown(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		switch kind {
		case websocket.TextMessage:
			c.opts.Metrics.FrameReceived("text")
			c.handleText(data)
		case websocket.BinaryMessage:
			c.opts.Metrics.FrameReceived("binary")
			c.handler.OnBinary(data)
		}
	}
}

// handleText decodes a control message. Malformed frames never surface.
func (c *Channel) handleText(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.dropped("malformed")
		if c.opts.Debug {
			log.Printf("[ws] DEBUG: ignoring malformed message: %v", err)
		}
		return
	}
	c.handler.OnMessage(msg)
}

// writePump writes queued frames and keeps the link alive with pings.
func (c *Channel) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				log.Printf("[ws] Failed to write message: %v", err)
				c.shutdown(err)
				return
			}
			if f.kind == websocket.BinaryMessage {
				c.opts.Metrics.FrameSent("binary")
			} else {
				c.opts.Metrics.FrameSent("text")
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}
