// Package audio captures microphone PCM through an ffmpeg subprocess. The
// process writes signed 16-bit little-endian samples to stdout; stopping the
// session interrupts the process and drains it.
package audio

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
	startProbeDelay = 250 * time.Millisecond
	stopWaitLimit   = 1200 * time.Millisecond
)

// Microphone opens ffmpeg-backed capture sessions.
type Microphone struct {
	command string
	logger  *zap.Logger
}

func NewMicrophone(command string, logger *zap.Logger) *Microphone {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Microphone{command: command, logger: logger}
}

func (m *Microphone) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withAudioDefaults(cfg)

	cmd := exec.CommandContext(ctx, m.command,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", m.command, err)
	}

	m.logger.Debug("microphone capture started",
		zap.String("format", cfg.InputFormat),
		zap.String("device", cfg.InputDevice),
		zap.Int("sample_rate", cfg.SampleRate),
	)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// An immediately exiting process means the device never opened; surface
	// stderr so the acquisition error is actionable.
	select {
	case err := <-waitErr:
		detail := trimmed(stderr.Bytes())
		if err != nil {
			return nil, fmt.Errorf("capture process exited before recording: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("capture process exited before recording: %s", detail)
	case <-time.After(startProbeDelay):
	}

	return &micSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func withAudioDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

type micSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *micSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *micSession) Close() error {
	return s.Stop()
}

// Stop interrupts the capture process, escalating to a kill if it does not
// exit promptly. Safe to call more than once.
func (s *micSession) Stop() error {
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

		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = err
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimmed(s.stderr.Bytes()))
		}
	})
	return s.stopErr
}

// ignoreExitStatus drops the non-zero exit ffmpeg reports when interrupted.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(b []byte) string {
	return string(bytes.TrimSpace(b))
}
