package usecase

import (
	"sync"

	"vetchart/internal/media"
	"vetchart/internal/ports"
)

// voiceSession is one active microphone session, in either recording or
// listening mode.
type voiceSession struct {
	cancel func()
	handle *media.Handle
	device ports.AudioSession

	// Listening mode only.
	stream     ports.StreamingSession
	aggregator *transcriptAggregator
	eventsDone chan struct{}

	// Recording mode only.
	buffer *pcmBuffer

	pumpDone chan struct{}
}

func (s *voiceSession) listening() bool {
	return s.stream != nil
}

// pcmBuffer accumulates raw capture chunks for record-then-transcribe mode.
// It satisfies the same sink contract as a recognition stream.
type pcmBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *pcmBuffer) SendAudio(chunk []byte) error {
	b.mu.Lock()
	b.data = append(b.data, chunk...)
	b.mu.Unlock()
	return nil
}

func (b *pcmBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}
