package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

const playbackTick = 20 * time.Millisecond

// FFplayOutput plays segments through an ffplay child process fed raw PCM on
// stdin. PCM is written in real time so completion tracks what was heard.
type FFplayOutput struct {
	path     string
	analyser *Analyser

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	format Format
	cancel context.CancelFunc
	closed bool
}

// NewFFplayOutput checks that ffplay is available. The process starts lazily
// with the format of the first segment.
func NewFFplayOutput(path string, analyser *Analyser) (*FFplayOutput, error) {
	if path == "" {
		path = "ffplay"
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, errors.New("ffplay is required for audio playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	return &FFplayOutput{path: path, analyser: analyser}, nil
}

// Play implements Output.
func (o *FFplayOutput) Play(seg Segment, done func()) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		done()
		return
	}
	if o.cmd == nil || o.format != seg.Format {
		if err := o.restartLocked(seg.Format); err != nil {
			o.mu.Unlock()
			log.Printf("[playback] WARN: failed to start ffplay: %v", err)
			done()
			return
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	stdin := o.stdin
	o.mu.Unlock()

	go o.stream(ctx, stdin, seg, done)
}

func (o *FFplayOutput) stream(ctx context.Context, w io.Writer, seg Segment, done func()) {
	defer done()
	defer o.analyser.Reset()

	bytesPerTick := seg.Format.BytesPerSecond() * int(playbackTick) / int(time.Second)
	if bytesPerTick <= 0 {
		bytesPerTick = 960
	}
	ticker := time.NewTicker(playbackTick)
	defer ticker.Stop()

	for off := 0; off < len(seg.PCM); off += bytesPerTick {
		end := off + bytesPerTick
		if end > len(seg.PCM) {
			end = len(seg.PCM)
		}
		chunk := seg.PCM[off:end]
		if _, err := w.Write(chunk); err != nil {
			log.Printf("[playback] WARN: ffplay write failed: %v", err)
			return
		}
		o.analyser.Feed(chunk)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop implements Output. The process is restarted so audio already handed
// to ffplay does not keep playing.
func (o *FFplayOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if o.cmd != nil && !o.closed {
		if err := o.restartLocked(o.format); err != nil {
			log.Printf("[playback] WARN: failed to restart ffplay: %v", err)
		}
	}
}

// Close implements Output.
func (o *FFplayOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.killLocked()
	return nil
}

func (o *FFplayOutput) restartLocked(format Format) error {
	o.killLocked()

	chLayout := "mono"
	if format.Channels == 2 {
		chLayout = "stereo"
	}
	cmd := exec.Command(o.path,
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", chLayout,
		"-ar", fmt.Sprintf("%d", format.SampleRate),
		"-i", "-",
	)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffplay: %w", err)
	}
	o.cmd = cmd
	o.stdin = stdin
	o.format = format
	go func(c *exec.Cmd) {
		_ = c.Wait()
		o.mu.Lock()
		if o.cmd == c {
			o.cmd = nil
			o.stdin = nil
		}
		o.mu.Unlock()
	}(cmd)
	return nil
}

func (o *FFplayOutput) killLocked() {
	if o.stdin != nil {
		_ = o.stdin.Close()
	}
	if o.cmd != nil && o.cmd.Process != nil {
		_ = o.cmd.Process.Kill()
	}
	o.cmd = nil
	o.stdin = nil
}
