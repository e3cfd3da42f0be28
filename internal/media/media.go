// Package media provides the camera and microphone used by a session.
package media

import (
	"context"
	"errors"
	"image"
)

// ErrDeviceUnavailable is returned when a capture device cannot be opened.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// VideoSource exposes the most recent camera frame.
type VideoSource interface {
	// Frame returns the latest frame, or nil until the device has produced
	// one with a non-zero size.
	Frame() image.Image
	Close() error
}

// Microphone streams captured PCM.
type Microphone interface {
	// Start delivers 16-bit mono PCM chunks to fn on a capture goroutine
	// until Close.
	Start(fn func(pcm []byte)) error
	SampleRate() int
	Close() error
}

// Devices opens capture devices. Opening may block on the OS and is always
// called off the event loop.
type Devices interface {
	OpenCamera(ctx context.Context) (VideoSource, error)
	OpenMicrophone(ctx context.Context) (Microphone, error)
}
