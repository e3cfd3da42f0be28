package audio

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

const (
	maxLevel   = 1.2
	levelFloor = 0.1
	levelGain  = 4.0
)

// Analyser tracks the loudness of the audio most recently played or
// captured. It is fed from device goroutines and read by the visualizer.
type Analyser struct {
	bits atomic.Uint64
}

// NewAnalyser creates a silent analyser.
func NewAnalyser() *Analyser {
	return &Analyser{}
}

// Feed measures a chunk of 16-bit little-endian PCM.
func (a *Analyser) Feed(pcm []byte) {
	if a == nil || len(pcm) < 2 {
		return
	}
	var sum float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	a.bits.Store(math.Float64bits(rms))
}

// Reset marks the signal as silent.
func (a *Analyser) Reset() {
	if a == nil {
		return
	}
	a.bits.Store(0)
}

// Level returns the display level in [0, 1.2]; quiet input reads as zero.
func (a *Analyser) Level() float64 {
	if a == nil {
		return 0
	}
	level := math.Float64frombits(a.bits.Load()) * levelGain
	if level > maxLevel {
		level = maxLevel
	}
	if level < levelFloor {
		level = 0
	}
	return level
}
