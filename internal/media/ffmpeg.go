package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os/exec"
	"runtime"
	"sync"
)

const (
	frameWidth      = 640
	frameHeight     = 480
	micSampleRateHz = 16000
	micChunkBytes   = micSampleRateHz * 2 / 50 // 20ms
)

// FFmpegDevices opens the camera and microphone through ffmpeg child
// processes producing raw frames and raw PCM on stdout.
type FFmpegDevices struct {
	FFmpegPath   string
	CameraDevice string
	MicDevice    string
}

// NewFFmpegDevices returns devices backed by the ffmpeg binary at path.
func NewFFmpegDevices(path, camera, mic string) *FFmpegDevices {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegDevices{FFmpegPath: path, CameraDevice: camera, MicDevice: mic}
}

// OpenCamera implements Devices.
func (d *FFmpegDevices) OpenCamera(ctx context.Context) (VideoSource, error) {
	if _, err := exec.LookPath(d.FFmpegPath); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg is required for camera capture (install ffmpeg and ensure it is in PATH)", ErrDeviceUnavailable)
	}
	args, err := cameraFFmpegArgs(runtime.GOOS, d.CameraDevice)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, d.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg camera capture: %v", ErrDeviceUnavailable, err)
	}

	cam := &ffmpegCamera{cmd: cmd, stdout: stdout}
	go cam.readFrames()
	return cam, nil
}

// OpenMicrophone implements Devices.
func (d *FFmpegDevices) OpenMicrophone(ctx context.Context) (Microphone, error) {
	if _, err := exec.LookPath(d.FFmpegPath); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)", ErrDeviceUnavailable)
	}
	args, err := micFFmpegArgs(runtime.GOOS, d.MicDevice)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, d.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg mic capture: %v", ErrDeviceUnavailable, err)
	}
	return &ffmpegMic{cmd: cmd, stdout: stdout}, nil
}

func cameraFFmpegArgs(goos, device string) ([]string, error) {
	output := []string{
		"-vf", fmt.Sprintf("fps=2,scale=%d:%d", frameWidth, frameHeight),
		"-f", "rawvideo", "-pix_fmt", "rgba", "-",
	}
	switch goos {
	case "darwin":
		if device == "" || device == "/dev/video0" {
			device = "0"
		}
		return append([]string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-framerate", "30", "-i", device,
		}, output...), nil
	case "linux":
		if device == "" {
			device = "/dev/video0"
		}
		return append([]string{
			"-hide_banner", "-loglevel", "error",
			"-f", "v4l2", "-i", device,
		}, output...), nil
	default:
		return nil, fmt.Errorf("%w: camera capture is not implemented for %s; supported platforms: darwin, linux", ErrDeviceUnavailable, goos)
	}
}

func micFFmpegArgs(goos, device string) ([]string, error) {
	switch goos {
	case "darwin":
		if device == "" || device == "default" {
			device = ":0"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", device,
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		if device == "" {
			device = "default"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", device,
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("%w: mic capture is not implemented for %s; supported platforms: darwin, linux", ErrDeviceUnavailable, goos)
	}
}

type ffmpegCamera struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu     sync.RWMutex
	latest *image.RGBA
}

func (c *ffmpegCamera) readFrames() {
	size := frameWidth * frameHeight * 4
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(c.stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Printf("[scan] WARN: camera read failed: %v", err)
			}
			return
		}
		img := &image.RGBA{
			Pix:    buf,
			Stride: frameWidth * 4,
			Rect:   image.Rect(0, 0, frameWidth, frameHeight),
		}
		c.mu.Lock()
		c.latest = img
		c.mu.Unlock()
	}
}

func (c *ffmpegCamera) Frame() image.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return nil
	}
	return c.latest
}

func (c *ffmpegCamera) Close() error {
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	return nil
}

type ffmpegMic struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	once sync.Once
}

func (m *ffmpegMic) SampleRate() int { return micSampleRateHz }

func (m *ffmpegMic) Start(fn func(pcm []byte)) error {
	started := false
	m.once.Do(func() {
		started = true
		go func() {
			for {
				buf := make([]byte, micChunkBytes)
				n, err := io.ReadFull(m.stdout, buf)
				if n > 0 {
					fn(buf[:n])
				}
				if err != nil {
					return
				}
			}
		}()
	})
	if !started {
		return errors.New("microphone already started")
	}
	return nil
}

func (m *ffmpegMic) Close() error {
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}
