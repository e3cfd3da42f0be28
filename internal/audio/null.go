package audio

import (
	"sync"
	"time"
)

// NullOutput discards audio but takes as long as real playback would. It
// backs headless deployments and hosts without ffplay.
type NullOutput struct {
	analyser *Analyser

	mu     sync.Mutex
	timer  *time.Timer
	done   func()
	closed bool
}

// NewNullOutput creates a silent output.
func NewNullOutput(analyser *Analyser) *NullOutput {
	return &NullOutput{analyser: analyser}
}

// Play implements Output.
func (o *NullOutput) Play(seg Segment, done func()) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		done()
		return
	}
	o.analyser.Feed(seg.PCM)
	once := sync.OnceFunc(done)
	o.done = once
	o.timer = time.AfterFunc(seg.Duration(), func() {
		o.analyser.Reset()
		once()
	})
	o.mu.Unlock()
}

// Stop implements Output.
func (o *NullOutput) Stop() {
	o.mu.Lock()
	timer, done := o.timer, o.done
	o.timer, o.done = nil, nil
	o.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if done != nil {
		o.analyser.Reset()
		done()
	}
}

// Close implements Output.
func (o *NullOutput) Close() error {
	o.Stop()
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}
