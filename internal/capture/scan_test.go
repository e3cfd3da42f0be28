package capture

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/bridge/internal/eventloop"
	"github.com/xiaot623/gogo/bridge/internal/media"
)

type fakeSender struct {
	open bool
	sent [][]byte
	err  error
}

func (s *fakeSender) IsOpen() bool { return s.open }

func (s *fakeSender) SendBinary(data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, data)
	return nil
}

type recordingListener struct {
	progress []string
	ended    []State
	messages []string
}

func (r *recordingListener) ScanProgress(attempts, maxAttempts int, message string) {
	r.progress = append(r.progress, message)
}

func (r *recordingListener) ScanEnded(state State, message string) {
	r.ended = append(r.ended, state)
	r.messages = append(r.messages, message)
}

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	return img
}

func newTestScan(t *testing.T, timeout time.Duration) (*Loop, *eventloop.Manual, *recordingListener) {
	t.Helper()
	sched := eventloop.NewManual()
	listener := &recordingListener{}
	l := New(sched, listener, nil, Options{
		Interval:    2 * time.Second,
		MaxAttempts: 5,
		Timeout:     timeout,
		Quality:     80,
		Go:          func(fn func()) { fn() },
	})
	return l, sched, listener
}

func TestScanSendsAtMostMaxAttempts(t *testing.T) {
	l, sched, listener := newTestScan(t, time.Minute)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: true}

	l.Start(cam, sender)
	sched.Advance(10 * time.Second)

	assert.Len(t, sender.sent, 5)
	assert.Equal(t, Exhausted, l.State())
	assert.Equal(t, []State{Exhausted}, listener.ended)
	assert.Equal(t, []string{ExhaustedMessage}, listener.messages)
	assert.Equal(t, 0, sched.ActiveTimers())
	assert.Equal(t, "Scanning... (5/5)", listener.progress[len(listener.progress)-1])

	// A stray tick after exhaustion is a no-op.
	l.tick()
	sched.Advance(time.Hour)
	assert.Len(t, sender.sent, 5)
	assert.Equal(t, []State{Exhausted}, listener.ended)
}

func TestScanProgressMessages(t *testing.T) {
	l, sched, listener := newTestScan(t, time.Minute)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())

	l.Start(cam, &fakeSender{open: true})
	sched.Advance(4 * time.Second)

	assert.Equal(t, []string{StartMessage, "Scanning... (1/5)", "Scanning... (2/5)"}, listener.progress)
	assert.Equal(t, 2, l.Attempts())
}

func TestScanFramesAreJPEG(t *testing.T) {
	l, sched, _ := newTestScan(t, time.Minute)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: true}

	l.Start(cam, sender)
	sched.Advance(2 * time.Second)

	assert.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0xFF, 0xD8}, sender.sent[0][:2])
}

func TestScanResolveStopsTimers(t *testing.T) {
	l, sched, listener := newTestScan(t, 10*time.Second)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: true}

	l.Start(cam, sender)
	sched.Advance(4 * time.Second)
	assert.Len(t, sender.sent, 2)

	l.Resolve()
	assert.Equal(t, Resolved, l.State())
	assert.Equal(t, 0, sched.ActiveTimers())

	sched.Advance(time.Minute)
	assert.Len(t, sender.sent, 2)
	assert.Equal(t, []State{Resolved}, listener.ended)
}

func TestScanTimeoutWinsWhenChannelNeverOpens(t *testing.T) {
	l, sched, listener := newTestScan(t, 10*time.Second)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: false}

	l.Start(cam, sender)
	sched.Advance(9 * time.Second)
	assert.Equal(t, Scanning, l.State())

	sched.Advance(time.Second)
	assert.Equal(t, TimedOut, l.State())
	assert.Equal(t, []State{TimedOut}, listener.ended)
	assert.Equal(t, []string{TimeoutMessage}, listener.messages)
	assert.Equal(t, 0, sched.ActiveTimers())

	sender.open = true
	sched.Advance(time.Minute)
	assert.Empty(t, sender.sent)
}

func TestScanSkipsTicksWithoutFrame(t *testing.T) {
	l, sched, _ := newTestScan(t, time.Minute)
	cam := media.NewStaticCamera()
	sender := &fakeSender{open: true}

	l.Start(cam, sender)
	sched.Advance(6 * time.Second)
	assert.Empty(t, sender.sent)
	assert.Equal(t, 0, l.Attempts())

	cam.SetFrame(testFrame())
	sched.Advance(2 * time.Second)
	assert.Len(t, sender.sent, 1)
}

func TestScanSendFailureDoesNotCountAttempt(t *testing.T) {
	l, sched, _ := newTestScan(t, time.Minute)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: true, err: errors.New("closed")}

	l.Start(cam, sender)
	sched.Advance(4 * time.Second)
	assert.Equal(t, 0, l.Attempts())
	assert.Equal(t, Scanning, l.State())
}

func TestScanDiscardsEncodeFinishingAfterResolve(t *testing.T) {
	sched := eventloop.NewManual()
	listener := &recordingListener{}
	var pending []func()
	l := New(sched, listener, nil, Options{
		Interval:    2 * time.Second,
		MaxAttempts: 5,
		Timeout:     time.Minute,
		Go:          func(fn func()) { pending = append(pending, fn) },
	})
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: true}

	l.Start(cam, sender)
	sched.Advance(2 * time.Second)
	assert.Len(t, pending, 1)

	l.Resolve()
	pending[0]()
	sched.Drain()

	assert.Empty(t, sender.sent)
	assert.Equal(t, 0, l.Attempts())
}

func TestScanRestartAfterExhaustion(t *testing.T) {
	l, sched, listener := newTestScan(t, time.Minute)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: true}

	l.Start(cam, sender)
	sched.Advance(10 * time.Second)
	assert.Equal(t, Exhausted, l.State())

	l.Start(cam, sender)
	assert.Equal(t, Scanning, l.State())
	assert.Equal(t, 0, l.Attempts())
	sched.Advance(2 * time.Second)
	assert.Len(t, sender.sent, 6)
	assert.Equal(t, []State{Exhausted}, listener.ended)
}

func TestScanStartWhileScanningCancelsPrevious(t *testing.T) {
	l, sched, listener := newTestScan(t, time.Minute)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())

	l.Start(cam, &fakeSender{open: true})
	l.Start(cam, &fakeSender{open: true})

	assert.Equal(t, []State{Cancelled}, listener.ended)
	assert.Equal(t, 2, sched.ActiveTimers())
}

func newDeferredScan(timeout time.Duration) (*Loop, *eventloop.Manual, *recordingListener, *[]func()) {
	sched := eventloop.NewManual()
	listener := &recordingListener{}
	pending := &[]func(){}
	l := New(sched, listener, nil, Options{
		Interval:    2 * time.Second,
		MaxAttempts: 5,
		Timeout:     timeout,
		Go:          func(fn func()) { *pending = append(*pending, fn) },
	})
	return l, sched, listener, pending
}

func runPending(sched *eventloop.Manual, pending *[]func()) {
	fns := *pending
	*pending = nil
	for _, fn := range fns {
		fn()
	}
	sched.Drain()
}

func TestScanLastFrameInFlightAtDeadlineExhausts(t *testing.T) {
	l, sched, listener, pending := newDeferredScan(10 * time.Second)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: true}

	l.Start(cam, sender)
	for i := 0; i < 5; i++ {
		sched.Advance(2 * time.Second)
		assert.Equal(t, Scanning, l.State())
		runPending(sched, pending)
	}

	assert.Len(t, sender.sent, 5)
	assert.Equal(t, Exhausted, l.State())
	assert.Equal(t, []State{Exhausted}, listener.ended)
	assert.Equal(t, []string{ExhaustedMessage}, listener.messages)
	assert.Equal(t, 0, sched.ActiveTimers())
}

func TestScanTimeoutWaitsForFrameInFlight(t *testing.T) {
	l, sched, listener, pending := newDeferredScan(6 * time.Second)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: true}

	l.Start(cam, sender)
	for i := 0; i < 3; i++ {
		sched.Advance(2 * time.Second)
		assert.Equal(t, Scanning, l.State())
		runPending(sched, pending)
	}

	assert.Len(t, sender.sent, 3)
	assert.Equal(t, TimedOut, l.State())
	assert.Equal(t, []string{TimeoutMessage}, listener.messages)
	assert.Equal(t, "Scanning... (3/5)", listener.progress[len(listener.progress)-1])
	assert.Equal(t, 0, sched.ActiveTimers())

	sched.Advance(time.Minute)
	runPending(sched, pending)
	assert.Len(t, sender.sent, 3)
	assert.Equal(t, []State{TimedOut}, listener.ended)
}

func TestScanTimeoutWithIdleEncoderEndsImmediately(t *testing.T) {
	l, sched, listener, pending := newDeferredScan(7 * time.Second)
	cam := media.NewStaticCamera()
	cam.SetFrame(testFrame())
	sender := &fakeSender{open: true}

	l.Start(cam, sender)
	for i := 0; i < 3; i++ {
		sched.Advance(2 * time.Second)
		runPending(sched, pending)
	}
	sched.Advance(time.Second)

	assert.Equal(t, TimedOut, l.State())
	assert.Len(t, sender.sent, 3)
	assert.Equal(t, []string{TimeoutMessage}, listener.messages)
	assert.Empty(t, *pending)
}
