package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/bridge/internal/session"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func receive(t *testing.T, conn *Connection) []byte {
	t.Helper()
	select {
	case data, ok := <-conn.Send:
		require.True(t, ok, "send channel closed")
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	h := startHub(t)
	a := h.NewConnection(nil)
	b := h.NewConnection(nil)
	h.Register(a)
	h.Register(b)
	assert.Eventually(t, func() bool { return h.GetConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	h.Publish(session.Event{Type: session.EventAlert, SessionID: "sess_1", Data: session.Alert{Message: "hi"}})

	for _, conn := range []*Connection{a, b} {
		var ev struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			Data      struct {
				Message string `json:"message"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(receive(t, conn), &ev))
		assert.Equal(t, "alert", ev.Type)
		assert.Equal(t, "sess_1", ev.SessionID)
		assert.Equal(t, "hi", ev.Data.Message)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := startHub(t)
	conn := h.NewConnection(nil)
	h.Register(conn)
	h.Unregister(conn)

	select {
	case _, ok := <-conn.Send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
	assert.Equal(t, 0, h.GetConnectionCount())
}

func TestSlowSubscriberDropped(t *testing.T) {
	h := startHub(t)
	slow := h.NewConnection(nil)
	h.Register(slow)

	for i := 0; i < sendBuffer+1; i++ {
		require.NoError(t, h.BroadcastJSON(map[string]int{"n": i}))
		time.Sleep(time.Millisecond)
	}

	assert.Eventually(t, func() bool { return h.GetConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSendJSONToConnection(t *testing.T) {
	h := NewHub()
	conn := h.NewConnection(nil)

	require.NoError(t, h.SendJSONToConnection(conn, map[string]string{"type": "state"}))
	assert.JSONEq(t, `{"type":"state"}`, string(<-conn.Send))
}

func TestUnregisterAfterRunReturns(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	conn := h.NewConnection(nil)
	h.Register(conn)
	cancel()
	<-h.Done()

	returned := make(chan struct{})
	go func() {
		h.Unregister(conn)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Unregister blocked after Run returned")
	}

	_, ok := <-conn.Send
	assert.False(t, ok)

	late := h.NewConnection(nil)
	h.Register(late)
	_, ok = <-late.Send
	assert.False(t, ok)
}
