package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/bridge/internal/protocol"
)

type recordingHandler struct {
	messages chan protocol.Inbound
	binary   chan []byte
	closed   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages: make(chan protocol.Inbound, 16),
		binary:   make(chan []byte, 16),
		closed:   make(chan error, 1),
	}
}

func (h *recordingHandler) OnMessage(msg protocol.Inbound) { h.messages <- msg }
func (h *recordingHandler) OnBinary(data []byte)           { h.binary <- data }
func (h *recordingHandler) OnClose(err error)              { h.closed <- err }

type received struct {
	kind int
	data []byte
}

// fakeBrain accepts one connection, writes script to it and records what
// the client sends.
type fakeBrain struct {
	server   *httptest.Server
	received chan received
	conns    chan *websocket.Conn
}

func newFakeBrain(t *testing.T, script func(conn *websocket.Conn)) *fakeBrain {
	t.Helper()
	b := &fakeBrain{
		received: make(chan received, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
		if script != nil {
			script(conn)
		}
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.received <- received{kind: kind, data: data}
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBrain) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func dialTest(t *testing.T, b *fakeBrain, h Handler) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, b.url(), h, Options{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestChannelDeliversTextInOrderAndSwallowsMalformed(t *testing.T) {
	brain := newFakeBrain(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"text","content":"one"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"content":"no type"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"user_text","content":"two"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"show_registration"}`))
	})
	h := newRecordingHandler()
	dialTest(t, brain, h)

	var got []protocol.Inbound
	for i := 0; i < 3; i++ {
		select {
		case msg := <-h.messages:
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 3 messages, got %d", len(got))
		}
	}
	assert.Equal(t, []protocol.Inbound{
		protocol.Text{Content: "one"},
		protocol.UserText{Content: "two"},
		protocol.ShowRegistration{},
	}, got)
}

func TestChannelHandsBinaryFramesToHandler(t *testing.T) {
	brain := newFakeBrain(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("RIFF-1"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("RIFF-2"))
	})
	h := newRecordingHandler()
	dialTest(t, brain, h)

	for _, want := range []string{"RIFF-1", "RIFF-2"} {
		select {
		case data := <-h.binary:
			assert.Equal(t, want, string(data))
		case <-time.After(2 * time.Second):
			t.Fatal("binary frame not delivered")
		}
	}
}

func TestChannelSendsControlAndBinaryFrames(t *testing.T) {
	brain := newFakeBrain(t, nil)
	h := newRecordingHandler()
	c := dialTest(t, brain, h)

	assert.NoError(t, c.Send(protocol.GetMessages(7)))
	assert.NoError(t, c.SendBinary([]byte{0xFF, 0xD8}))

	select {
	case r := <-brain.received:
		assert.Equal(t, websocket.TextMessage, r.kind)
		var body map[string]interface{}
		assert.NoError(t, json.Unmarshal(r.data, &body))
		assert.Equal(t, "get_messages", body["type"])
		assert.Equal(t, float64(7), body["conversation_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("control message not received")
	}

	select {
	case r := <-brain.received:
		assert.Equal(t, websocket.BinaryMessage, r.kind)
		assert.Equal(t, []byte{0xFF, 0xD8}, r.data)
	case <-time.After(2 * time.Second):
		t.Fatal("binary frame not received")
	}
}

func TestChannelReportsRemoteClose(t *testing.T) {
	brain := newFakeBrain(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	})
	h := newRecordingHandler()
	c := dialTest(t, brain, h)

	select {
	case err := <-h.closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close not reported")
	}

	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send(protocol.GetConversations()), ErrChannelNotOpen)
	assert.ErrorIs(t, c.SendBinary([]byte{1}), ErrChannelNotOpen)
}

func TestChannelLocalCloseReportsNil(t *testing.T) {
	brain := newFakeBrain(t, nil)
	h := newRecordingHandler()
	c := dialTest(t, brain, h)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	select {
	case err := <-h.closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close not reported")
	}
	assert.False(t, c.IsOpen())
	<-c.Done()
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/", newRecordingHandler(), Options{})
	assert.Error(t, err)
}

func TestNilChannelIsNotOpen(t *testing.T) {
	var c *Channel
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send(protocol.MuteMic()), ErrChannelNotOpen)
	assert.NoError(t, c.Close())
}
