// Package playback plays decoded voice segments strictly in arrival order.
package playback

import (
	"log"

	"github.com/xiaot623/gogo/bridge/internal/audio"
	"github.com/xiaot623/gogo/bridge/internal/eventloop"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
)

// Queue is an unbounded FIFO of segments with at most one segment playing.
// All methods must be called on the loop goroutine.
type Queue struct {
	sched     eventloop.Scheduler
	out       audio.Output
	metrics   *metrics.Metrics
	highWater int

	pending []audio.Segment
	playing bool
	gen     uint64
	warned  bool
}

// NewQueue creates a queue. out may be nil until the output device is
// initialized; segments accumulate meanwhile.
func NewQueue(sched eventloop.Scheduler, out audio.Output, highWater int, m *metrics.Metrics) *Queue {
	return &Queue{
		sched:     sched,
		out:       out,
		metrics:   m,
		highWater: highWater,
	}
}

// SetOutput installs the output device and starts any pending playback.
func (q *Queue) SetOutput(out audio.Output) {
	q.out = out
	q.pump()
}

// Enqueue appends seg and starts playback if idle. It never blocks.
func (q *Queue) Enqueue(seg audio.Segment) {
	q.pending = append(q.pending, seg)
	q.metrics.SetQueueDepth(len(q.pending))

	if q.highWater > 0 && len(q.pending) >= q.highWater && !q.warned {
		q.warned = true
		log.Printf("[playback] WARN: %d segments buffered, the brain is producing audio faster than it plays", len(q.pending))
	}
	q.pump()
}

// pump starts the head segment unless something is playing, nothing is
// pending or no output exists.
func (q *Queue) pump() {
	if q.playing || len(q.pending) == 0 || q.out == nil {
		return
	}

	seg := q.pending[0]
	q.pending[0] = audio.Segment{}
	q.pending = q.pending[1:]
	q.playing = true
	q.metrics.SetQueueDepth(len(q.pending))
	q.metrics.SegmentPlayed()
	if len(q.pending) < q.highWater/2 {
		q.warned = false
	}

	gen := q.gen
	q.out.Play(seg, func() {
		q.sched.Post(func() { q.finished(gen) })
	})
}

// finished runs on the loop when a segment ends. Completions of segments
// from before the last Clear are ignored.
func (q *Queue) finished(gen uint64) {
	if gen != q.gen {
		return
	}
	q.playing = false
	q.pump()
}

// Clear drops every pending segment and cuts the one playing. Completions
// of cut segments are ignored.
func (q *Queue) Clear() {
	dropped := len(q.pending)
	q.pending = nil
	q.gen++
	wasPlaying := q.playing
	q.playing = false
	q.warned = false
	q.metrics.SetQueueDepth(0)
	q.metrics.SegmentsCleared(dropped)

	if wasPlaying && q.out != nil {
		q.out.Stop()
	}
}

// Len returns the number of segments waiting to play.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Playing reports whether a segment is currently playing.
func (q *Queue) Playing() bool {
	return q.playing
}
