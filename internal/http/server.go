// Package http provides the local control API: session actions, the state
// snapshot, the UI event feed and metrics.
package http

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/eventloop"
	"github.com/xiaot623/gogo/bridge/internal/hub"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
	"github.com/xiaot623/gogo/bridge/internal/session"
)

// maxVoiceChunk caps a POST /voice body.
const maxVoiceChunk = 1 << 20

// Caller runs fn on the session's event loop and waits for it.
type Caller interface {
	Call(ctx context.Context, fn func() error) error
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, fn func() error) error

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, fn func() error) error { return f(ctx, fn) }

// Options configures the UI event feed connections.
type Options struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	CallTimeout    time.Duration
}

// Server is the control API server.
type Server struct {
	echo     *echo.Echo
	sess     *session.Session
	loop     Caller
	hub      *hub.Hub
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer creates the control API server.
func NewServer(sess *session.Session, loop Caller, h *hub.Hub, m *metrics.Metrics, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 << 10
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		echo: e,
		sess: sess,
		loop: loop,
		hub:  h,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local UI only
				return true
			},
		},
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	e.GET("/state", s.handleState)
	e.GET("/ws", s.handleWebSocket)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	e.POST("/session/start", s.action(s.sess.Start))
	e.POST("/session/logout", s.action(s.sess.Logout))
	e.POST("/session/teardown", s.action(func() error {
		s.sess.Teardown()
		return nil
	}))
	e.POST("/scan/retry", s.action(s.sess.RetryScan))

	e.POST("/conversations", s.action(s.sess.NewConversation))
	e.POST("/conversations/refresh", s.action(s.sess.RefreshConversations))
	e.POST("/conversations/:id/open", s.withID(s.sess.LoadConversation))

	e.POST("/mic/mute", s.action(s.sess.MuteMic))
	e.POST("/mic/unmute", s.action(s.sess.UnmuteMic))
	e.POST("/voice", s.handleVoice)

	e.POST("/reminders/open", s.action(s.sess.OpenReminders))
	e.POST("/reminders/close", s.action(s.sess.CloseReminders))
	e.POST("/reminders", s.handleCreateReminder)
	e.POST("/reminders/:id/complete", s.withID(s.sess.CompleteReminder))
	e.DELETE("/reminders/:id", s.withID(s.sess.DeleteReminder))

	e.POST("/register", s.handleRegister)
	e.POST("/register/simple", s.handleRegisterSimple)
	e.POST("/register/cancel", s.action(s.sess.CancelRegistration))
	e.POST("/notification/dismiss", s.action(s.sess.DismissNotification))

	return s
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted or tested directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// call runs fn on the loop with the request's deadline.
func (s *Server) call(c echo.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.opts.CallTimeout)
	defer cancel()
	return s.loop.Call(ctx, fn)
}

// action wraps a session action without a request body.
func (s *Server) action(fn func() error) echo.HandlerFunc {
	return func(c echo.Context) error {
		return s.respond(c, s.call(c, fn))
	}
}

// withID wraps a session action taking the :id path parameter.
func (s *Server) withID(fn func(id int64) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}
		return s.respond(c, s.call(c, func() error { return fn(id) }))
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	var started, channelOpen bool
	err := s.call(c, func() error {
		started = s.sess.Started()
		channelOpen = s.sess.View().ChannelOpen
		return nil
	})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"started":      started,
		"channel_open": channelOpen,
		"subscribers":  s.hub.GetConnectionCount(),
	})
}

func (s *Server) handleState(c echo.Context) error {
	var snap session.Snapshot
	if err := s.call(c, func() error {
		snap = s.sess.Snapshot()
		return nil
	}); err != nil {
		return s.respond(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCreateReminder(c echo.Context) error {
	var req session.ReminderInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return s.respond(c, s.call(c, func() error { return s.sess.CreateReminder(req) }))
}

func (s *Server) handleRegister(c echo.Context) error {
	var req domain.Profile
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return s.respond(c, s.call(c, func() error { return s.sess.Register(req) }))
}

// RegisterSimpleRequest is the body of POST /register/simple.
type RegisterSimpleRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRegisterSimple(c echo.Context) error {
	var req RegisterSimpleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return s.respond(c, s.call(c, func() error { return s.sess.RegisterSimple(req.Name) }))
}

func (s *Server) handleVoice(c echo.Context) error {
	pcm, err := io.ReadAll(io.LimitReader(c.Request().Body, maxVoiceChunk+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
	}
	if len(pcm) > maxVoiceChunk {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "voice chunk too large"})
	}
	return s.respond(c, s.call(c, func() error { return s.sess.SendVoice(pcm) }))
}

// respond maps a session error to a JSON response.
func (s *Server) respond(c echo.Context, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}

	var invalid *session.ValidationError
	var denied *session.DeniedError
	switch {
	case errors.As(err, &invalid):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": invalid.Error()})
	case errors.As(err, &denied):
		return c.JSON(http.StatusConflict, map[string]string{"error": denied.Reason, "action": denied.Action})
	case errors.Is(err, session.ErrNotStarted),
		errors.Is(err, session.ErrAlreadyStarted),
		errors.Is(err, session.ErrAlreadyIdentified),
		errors.Is(err, session.ErrNoCamera):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, eventloop.ErrLoopStopped),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		log.Printf("[session] WARN: %s %s failed: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
