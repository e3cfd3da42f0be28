// Package audio decodes voice segments received from the brain and plays
// them on an output device.
package audio

import (
	"errors"
	"time"
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Segment is one decoded unit of synthesized voice.
type Segment struct {
	Format Format
	PCM    []byte
}

// Duration returns how long the segment plays.
func (s Segment) Duration() time.Duration {
	bps := s.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(len(s.PCM)) * int64(time.Second) / int64(bps))
}

// Decoder turns an encoded audio payload into a playable segment.
type Decoder interface {
	Decode(data []byte) (Segment, error)
}

// Output plays segments one at a time.
type Output interface {
	// Play starts seg and calls done exactly once when playback ends or is
	// stopped. done may run on any goroutine.
	Play(seg Segment, done func())
	// Stop cuts the segment currently playing, if any.
	Stop()
	Close() error
}

// ErrOutputClosed is returned by outputs used after Close.
var ErrOutputClosed = errors.New("audio output closed")
