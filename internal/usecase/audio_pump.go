package usecase

import (
	"errors"
	"fmt"
	"io"
	"time"

	"vetchart/internal/domain"
	"vetchart/internal/ports"
)

const minChunkSize = 256

// chunkSink receives microphone chunks; implemented by the live recognition
// stream and by the in-memory recording buffer.
type chunkSink interface {
	SendAudio(chunk []byte) error
}

// pumpAudio moves microphone chunks into the sink until the device closes or
// the sink rejects a chunk. Device EOF is the normal stop path and is silent.
func pumpAudio(
	device ports.AudioSession,
	sink chunkSink,
	chunkSize int,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < minChunkSize {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := device.Read(buf)
		if n > 0 {
			if sendErr := sink.SendAudio(buf[:n]); sendErr != nil {
				events.ActionErrors(domain.ErrorCodeAudioStream,
					[]string{fmt.Sprintf("failed to stream audio: %v", sendErr)})
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				events.ActionErrors(domain.ErrorCodeAudioStream,
					[]string{fmt.Sprintf("audio capture error: %v", err)})
			}
			return
		}
	}
}

// waitForStream waits for the recognition stream to drain, forcing it closed
// if it exceeds the timeout.
func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
