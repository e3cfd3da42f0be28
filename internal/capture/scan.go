// Package capture runs the identity scan: a bounded number of camera frames
// sent to the brain until it resolves who is in front of the camera.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"time"

	"github.com/xiaot623/gogo/bridge/internal/eventloop"
	"github.com/xiaot623/gogo/bridge/internal/media"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
)

// State is the scan state.
type State int

const (
	Idle State = iota
	Scanning
	Resolved
	Exhausted
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Resolved:
		return "resolved"
	case Exhausted:
		return "exhausted"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a scan cycle.
func (s State) Terminal() bool {
	return s >= Resolved
}

const (
	StartMessage     = "Scanning for face..."
	ExhaustedMessage = "Face recognition timeout. Please try again."
	TimeoutMessage   = ExhaustedMessage
)

// Sender is the part of the transport channel the scan uses.
type Sender interface {
	IsOpen() bool
	SendBinary(data []byte) error
}

// Listener observes scan progress. Calls run on the loop.
type Listener interface {
	ScanProgress(attempts, maxAttempts int, message string)
	ScanEnded(state State, message string)
}

// Options configures a scan Loop.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	Quality     int

	// Go runs frame encoding off the loop. Defaults to a new goroutine.
	Go func(fn func())
}

// Loop is a bounded-retry scan task. The attempt path and the wall-clock
// path share one cancellation token; whichever ends the cycle first cancels
// both. All methods must be called on the event loop.
type Loop struct {
	sched    eventloop.Scheduler
	listener Listener
	metrics  *metrics.Metrics
	opts     Options

	state    State
	attempts int
	source   media.VideoSource
	sender   Sender

	ctx      context.Context
	cancel   context.CancelFunc
	ticker   eventloop.Timer
	timeout  eventloop.Timer
	encoding bool
	expired  bool
}

// New creates an idle scan loop.
func New(sched eventloop.Scheduler, listener Listener, m *metrics.Metrics, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Quality <= 0 {
		opts.Quality = 80
	}
	if opts.Go == nil {
		opts.Go = func(fn func()) { go fn() }
	}
	return &Loop{
		sched:    sched,
		listener: listener,
		metrics:  m,
		opts:     opts,
	}
}

// Start begins a new scan cycle, cancelling one that is still running.
func (l *Loop) Start(source media.VideoSource, sender Sender) {
	if l.state == Scanning {
		l.end(Cancelled, "")
	}

	l.state = Scanning
	l.attempts = 0
	l.source = source
	l.sender = sender
	l.encoding = false
	l.expired = false
	l.ctx, l.cancel = context.WithCancel(context.Background())

	l.ticker = l.sched.Every(l.opts.Interval, l.tick)
	l.timeout = l.sched.AfterFunc(l.opts.Timeout, l.expire)
	l.listener.ScanProgress(0, l.opts.MaxAttempts, StartMessage)
}

// Resolve ends the cycle because the brain reported an identity outcome.
func (l *Loop) Resolve() {
	if l.state == Scanning {
		l.end(Resolved, "")
	}
}

// Cancel ends the cycle without an outcome.
func (l *Loop) Cancel() {
	if l.state == Scanning {
		l.end(Cancelled, "")
	}
}

// State returns the current scan state.
func (l *Loop) State() State {
	return l.state
}

// Attempts returns the number of frames sent in the current cycle.
func (l *Loop) Attempts() int {
	return l.attempts
}

// expire ends the cycle at the wall-clock deadline. A frame already being
// encoded is still sent and counted; the cycle ends once it lands.
func (l *Loop) expire() {
	l.timeout = nil
	if l.state != Scanning {
		return
	}
	if l.encoding {
		l.expired = true
		if l.ticker != nil {
			l.ticker.Stop()
			l.ticker = nil
		}
		return
	}
	l.timedOut()
}

func (l *Loop) timedOut() {
	log.Printf("[scan] no identity after %s, hiding the camera", l.opts.Timeout)
	l.end(TimedOut, TimeoutMessage)
}

func (l *Loop) tick() {
	if l.state != Scanning || l.ctx.Err() != nil {
		return
	}
	if l.sender == nil || !l.sender.IsOpen() {
		log.Printf("[scan] channel not ready, skipping tick")
		return
	}
	if l.encoding {
		return
	}
	if l.source == nil {
		return
	}
	frame := l.source.Frame()
	if frame == nil || frame.Bounds().Empty() {
		log.Printf("[scan] video not ready yet, skipping tick")
		return
	}

	l.encoding = true
	ctx, quality := l.ctx, l.opts.Quality
	l.opts.Go(func() {
		data, err := EncodeJPEG(frame, quality)
		l.sched.Post(func() { l.encoded(ctx, data, err) })
	})
}

// encoded runs on the loop once a frame is encoded. A result belonging to a
// cycle that already ended is discarded.
func (l *Loop) encoded(ctx context.Context, data []byte, err error) {
	if ctx != l.ctx {
		return
	}
	l.encoding = false
	if ctx.Err() != nil || l.state != Scanning {
		return
	}
	if err != nil {
		log.Printf("[scan] WARN: frame encode failed: %v", err)
		if l.expired {
			l.timedOut()
		}
		return
	}
	if err := l.sender.SendBinary(data); err != nil {
		log.Printf("[scan] WARN: frame not sent: %v", err)
		if l.expired {
			l.timedOut()
		}
		return
	}

	l.attempts++
	l.metrics.ScanFrameSent()
	log.Printf("[scan] sent image attempt %d/%d", l.attempts, l.opts.MaxAttempts)
	l.listener.ScanProgress(l.attempts, l.opts.MaxAttempts,
		fmt.Sprintf("Scanning... (%d/%d)", l.attempts, l.opts.MaxAttempts))

	if l.attempts >= l.opts.MaxAttempts {
		log.Printf("[scan] max attempts reached, stopping")
		l.end(Exhausted, ExhaustedMessage)
		return
	}
	if l.expired {
		l.timedOut()
	}
}

func (l *Loop) end(state State, message string) {
	l.cancel()
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
	if l.timeout != nil {
		l.timeout.Stop()
		l.timeout = nil
	}
	l.state = state
	l.encoding = false
	l.expired = false
	l.source = nil
	l.sender = nil
	l.metrics.ScanEnded(state.String())
	l.listener.ScanEnded(state, message)
}

// EncodeJPEG compresses a frame for transmission.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
