// Package eventloop provides the single-threaded cooperative loop that runs
// every session handler. Producers on other goroutines hand work to the loop
// with Post; handlers run to completion one at a time.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopStopped is returned when work is submitted after the loop exited.
var ErrLoopStopped = errors.New("event loop stopped")

// Timer is a cancellable timer whose callback runs on the loop.
type Timer interface {
	// Stop prevents any further firing. It reports whether the timer was
	// still active.
	Stop() bool
}

// Scheduler is the part of the loop components depend on.
type Scheduler interface {
	// Post queues fn to run on the loop. It never blocks.
	Post(fn func()) bool
	// AfterFunc runs fn on the loop once, after d.
	AfterFunc(d time.Duration, fn func()) Timer
	// Every runs fn on the loop every d until stopped. Firings never overlap
	// and are scheduled from the previous due time, not from when fn returned.
	Every(d time.Duration, fn func()) Timer
}

// Loop is the real, goroutine-backed Scheduler.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// New creates a loop. Call Run to start processing.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn. The queue is unbounded so Post never blocks the caller.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run processes queued work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()

			if ctx.Err() != nil {
				return
			}
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Call runs fn on the loop and waits for its result. It must not be called
// from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrLoopStopped
	}
	select {
	case err := <-result:
		return err
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc implements Scheduler.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{loop: l, fn: fn}
	t.arm(time.Now().Add(d))
	return t
}

// Every implements Scheduler.
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	t := &loopTimer{loop: l, fn: fn, period: d}
	t.arm(time.Now().Add(d))
	return t
}

type loopTimer struct {
	loop   *Loop
	fn     func()
	period time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	due     time.Time
	stopped bool
}

func (t *loopTimer) arm(due time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.due = due
	t.timer = time.AfterFunc(time.Until(due), func() {
		t.loop.Post(t.fire)
	})
}

// fire runs on the loop. The stopped check discards a firing that was
// already queued when Stop was called.
func (t *loopTimer) fire() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}

	if t.period <= 0 {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
	}

	t.fn()

	if t.period > 0 {
		t.mu.Lock()
		next := t.due.Add(t.period)
		t.mu.Unlock()
		// More than a whole period behind: drop the missed firings.
		if now := time.Now(); now.Sub(next) > t.period {
			next = now
		}
		t.arm(next)
	}
}

func (t *loopTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}
