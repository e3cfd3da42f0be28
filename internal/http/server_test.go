package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/bridge/internal/eventloop"
	"github.com/xiaot623/gogo/bridge/internal/hub"
	"github.com/xiaot623/gogo/bridge/internal/media"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
	"github.com/xiaot623/gogo/bridge/internal/policy"
	"github.com/xiaot623/gogo/bridge/internal/protocol"
	"github.com/xiaot623/gogo/bridge/internal/session"
	"github.com/xiaot623/gogo/bridge/internal/transport"
	"github.com/xiaot623/gogo/bridge/tests/helpers"
)

type stubChannel struct {
	mu   sync.Mutex
	h    transport.Handler
	sent []string
}

func (c *stubChannel) IsOpen() bool { return true }

func (c *stubChannel) Send(msg protocol.Outbound) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg.OutboundType())
	c.mu.Unlock()
	return nil
}

func (c *stubChannel) SendBinary(data []byte) error { return nil }
func (c *stubChannel) Close() error                 { return nil }

type testServer struct {
	srv     *Server
	sched   *eventloop.Manual
	channel *stubChannel
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	ts := &testServer{sched: eventloop.NewManual(), channel: &stubChannel{}}
	m := metrics.New("bridge_test")
	sess := session.New(session.Options{BrainURL: "ws://brain.test/ws"}, session.Deps{
		Loop:    ts.sched,
		Devices: &media.StaticDevices{Mic: &media.ChunkMic{}},
		Dial: func(ctx context.Context, endpoint string, h transport.Handler) (session.Channel, error) {
			ts.channel.h = h
			return ts.channel, nil
		},
		Store:   helpers.NewTestSQLiteStore(t),
		Policy:  engine,
		Metrics: m,
		Go:      func(fn func()) { fn() },
	})
	loop := CallerFunc(func(ctx context.Context, fn func() error) error {
		err := fn()
		ts.sched.Drain()
		return err
	})
	ts.srv = NewServer(sess, loop, hub.NewHub(), m, Options{})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, ts.srv.handleHealth(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["started"])
}

func TestStartAndState(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/session/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/session/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode(t, rec)
	assert.Equal(t, true, state["is_ready"])
	assert.Equal(t, "idle", state["phase"])
	assert.Equal(t, true, state["channel_open"])
	assert.Equal(t, []interface{}{}, state["messages"])
}

func TestActionBeforeStart(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/mic/mute", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session not started", decode(t, rec)["error"])
}

func TestDeniedActionReturnsReason(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/session/start", "")

	rec := ts.do(t, http.MethodPost, "/conversations", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Please wait until you are recognized.", body["error"])
	assert.Equal(t, policy.ActionNewConversation, body["action"])
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/session/start", "")

	rec := ts.do(t, http.MethodPost, "/register/simple", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please enter your name!", decode(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/conversations/abc/open", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/reminders", `{"title":"Walk"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterSimpleSends(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/session/start", "")

	rec := ts.do(t, http.MethodPost, "/register/simple", `{"name":"Dana"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{protocol.TypeRegisterUserOld}, ts.channel.sent)
}

func TestRemindersPanelRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/session/start", "")

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/reminders/open", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/reminders/close", "").Code)
	assert.Equal(t, []string{protocol.TypeMuteMic, protocol.TypeUnmuteMic}, ts.channel.sent)
}

func TestMetricsExposed(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/session/start", "")
	ts.do(t, http.MethodPost, "/conversations", "")

	rec := ts.do(t, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bridge_test_session_actions_denied_total")
}

func TestTeardownRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/session/start", "")

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/session/teardown", "").Code)
	state := decode(t, ts.do(t, http.MethodGet, "/state", ""))
	assert.Equal(t, false, state["is_ready"])
	assert.Equal(t, "anonymous", state["phase"])
}
