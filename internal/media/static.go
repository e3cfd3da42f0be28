package media

import (
	"context"
	"image"
	"sync"
)

// StaticCamera serves frames set by the caller.
type StaticCamera struct {
	mu    sync.RWMutex
	frame image.Image
}

// NewStaticCamera creates a camera that has not produced a frame yet.
func NewStaticCamera() *StaticCamera {
	return &StaticCamera{}
}

// SetFrame replaces the current frame.
func (c *StaticCamera) SetFrame(img image.Image) {
	c.mu.Lock()
	c.frame = img
	c.mu.Unlock()
}

// Frame implements VideoSource. Frames with an empty bounds read as absent.
func (c *StaticCamera) Frame() image.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.frame == nil || c.frame.Bounds().Empty() {
		return nil
	}
	return c.frame
}

func (c *StaticCamera) Close() error { return nil }

// StaticDevices hands out fixed devices. A nil device, or a non-nil error,
// makes the corresponding Open call fail.
type StaticDevices struct {
	Camera    VideoSource
	Mic       Microphone
	CameraErr error
	MicErr    error
}

// OpenCamera implements Devices.
func (d *StaticDevices) OpenCamera(ctx context.Context) (VideoSource, error) {
	if d.CameraErr != nil {
		return nil, d.CameraErr
	}
	if d.Camera == nil {
		return nil, ErrDeviceUnavailable
	}
	return d.Camera, nil
}

// OpenMicrophone implements Devices.
func (d *StaticDevices) OpenMicrophone(ctx context.Context) (Microphone, error) {
	if d.MicErr != nil {
		return nil, d.MicErr
	}
	if d.Mic == nil {
		return nil, ErrDeviceUnavailable
	}
	return d.Mic, nil
}

// ChunkMic is a microphone whose chunks are pushed by the caller.
type ChunkMic struct {
	mu     sync.Mutex
	fn     func([]byte)
	closed bool
}

// Start implements Microphone.
func (m *ChunkMic) Start(fn func(pcm []byte)) error {
	m.mu.Lock()
	m.fn = fn
	m.mu.Unlock()
	return nil
}

// Push delivers pcm as if it had been captured.
func (m *ChunkMic) Push(pcm []byte) {
	m.mu.Lock()
	fn, closed := m.fn, m.closed
	m.mu.Unlock()
	if fn != nil && !closed {
		fn(pcm)
	}
}

// Closed reports whether Close was called.
func (m *ChunkMic) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *ChunkMic) SampleRate() int { return micSampleRateHz }

func (m *ChunkMic) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
