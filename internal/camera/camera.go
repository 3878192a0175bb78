// Package camera produces a live preview frame stream through an ffmpeg
// subprocess emitting MJPEG to stdout. The session keeps only the most recent
// complete frame; capture samples it synchronously.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"vetchart/internal/ports"
)

const (
	openProbeDelay = 300 * time.Millisecond
	stopWaitLimit  = 1200 * time.Millisecond

	// Bigger than any plausible single MJPEG frame at preview quality.
	maxFrameBytes = 8 * 1024 * 1024
)

// Camera opens ffmpeg-backed preview sessions.
type Camera struct {
	command string
	logger  *zap.Logger
}

func NewCamera(command string, logger *zap.Logger) *Camera {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Camera{command: command, logger: logger}
}

func (c *Camera) Open(ctx context.Context, cfg ports.CameraConfig) (ports.CameraSession, error) {
	cfg = withCameraDefaults(cfg)

	cmd := exec.CommandContext(ctx, c.command,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-framerate", strconv.Itoa(cfg.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-i", cfg.InputDevice,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "4",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create preview pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.command, err)
	}

	c.logger.Debug("camera preview started",
		zap.String("format", cfg.InputFormat),
		zap.String("device", cfg.InputDevice),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
	)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := string(bytes.TrimSpace(stderr.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("preview process exited before streaming: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("preview process exited before streaming: %s", detail)
	case <-time.After(openProbeDelay):
	}

	session := &previewSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
		done:    make(chan struct{}),
	}
	go session.readFrames()
	return session, nil
}

func withCameraDefaults(cfg ports.CameraConfig) ports.CameraConfig {
	if cfg.InputFormat == "" {
		cfg.InputFormat = "v4l2"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "/dev/video0"
	}
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 10
	}
	return cfg
}

type previewSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error
	done    chan struct{}

	frameMu sync.Mutex
	frame   []byte

	stopOnce sync.Once
	stopErr  error
}

// LatestFrame returns a copy of the most recent complete JPEG frame. The
// boolean is false until the preview has produced one.
func (s *previewSession) LatestFrame() ([]byte, bool) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if s.frame == nil {
		return nil, false
	}
	return append([]byte(nil), s.frame...), true
}

// readFrames scans the MJPEG stream for SOI/EOI marker pairs and retains the
// latest complete frame.
func (s *previewSession) readFrames() {
	defer close(s.done)

	var (
		pending []byte
		buf     = make([]byte, 32*1024)
	)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = s.extractFrames(pending)
			if len(pending) > maxFrameBytes {
				// Corrupt stream with no frame boundary in sight.
				pending = pending[:0]
			}
		}
		if err != nil {
			return
		}
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

func (s *previewSession) extractFrames(pending []byte) []byte {
	for {
		start := bytes.Index(pending, jpegSOI)
		if start < 0 {
			return pending[:0]
		}
		end := bytes.Index(pending[start+len(jpegSOI):], jpegEOI)
		if end < 0 {
			// Incomplete frame; keep the tail for the next read.
			return append(pending[:0:0], pending[start:]...)
		}
		frameEnd := start + len(jpegSOI) + end + len(jpegEOI)

		frame := append([]byte(nil), pending[start:frameEnd]...)
		s.frameMu.Lock()
		s.frame = frame
		s.frameMu.Unlock()

		pending = pending[frameEnd:]
	}
}

// Stop interrupts the preview process and waits for the frame reader to
// drain. Safe to call more than once.
func (s *previewSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = ignoreExitStatus(err)
			}
		case <-time.After(stopWaitLimit):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = ignoreExitStatus(err)
			}
		}

		_ = s.stdout.Close()
		<-s.done

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, bytes.TrimSpace(s.stderr.Bytes()))
		}
	})
	return s.stopErr
}

func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
