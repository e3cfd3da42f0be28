package eventloop

import (
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven by the caller: work runs only
// inside Drain and Advance, and time moves only through Advance. Tests use it
// in place of Loop.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	queue  []func()
	timers []*manualTimer
	seq    int
}

// NewManual creates a manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Post implements Scheduler.
func (m *Manual) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	return true
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.add(d, 0, fn)
}

// Every implements Scheduler.
func (m *Manual) Every(d time.Duration, fn func()) Timer {
	return m.add(d, d, fn)
}

func (m *Manual) add(d, period time.Duration, fn func()) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, due: m.now + d, period: period, fn: fn, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Drain runs queued work, including work queued while draining.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves virtual time forward by d, firing due timers in order.
func (m *Manual) Advance(d time.Duration) {
	m.Drain()
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			break
		}
		m.now = next.due
		if next.period > 0 {
			next.due += next.period
		} else {
			m.removeLocked(next)
		}
		m.mu.Unlock()

		next.fn()
		m.Drain()
	}
	m.Drain()
}

// ActiveTimers returns the number of timers that can still fire.
func (m *Manual) ActiveTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) nextDueLocked(limit time.Duration) *manualTimer {
	var next *manualTimer
	for _, t := range m.timers {
		if t.due > limit {
			continue
		}
		if next == nil || t.due < next.due || (t.due == next.due && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (m *Manual) removeLocked(t *manualTimer) {
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	m      *Manual
	due    time.Duration
	period time.Duration
	fn     func()
	seq    int
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, other := range t.m.timers {
		if other == t {
			t.m.removeLocked(t)
			return true
		}
	}
	return false
}
