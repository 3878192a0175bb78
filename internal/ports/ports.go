package ports

import (
	"context"
	"io"

	"vetchart/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live microphone capture stream.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture opens microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// CameraConfig describes how the camera preview should be produced.
type CameraConfig struct {
	InputFormat string
	InputDevice string
	Width       int
	Height      int
	FrameRate   int
}

// CameraSession is an open camera preview. LatestFrame returns the most
// recent encoded frame and whether the preview has produced one yet.
type CameraSession interface {
	LatestFrame() ([]byte, bool)
	Stop() error
}

// CameraCapture opens camera preview sessions.
type CameraCapture interface {
	Open(ctx context.Context, cfg CameraConfig) (CameraSession, error)
}

// StreamingConfig describes provider-agnostic live recognition settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	Language       string
	InterimResults bool
}

// StreamingSession is an active recognition stream.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts live recognition streams.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// Transcriber converts a complete audio artifact to text.
type Transcriber interface {
	Transcribe(ctx context.Context, artifact domain.AudioArtifact) (string, error)
}

// NoteGenerator produces a structured note from free text. The result always
// replaces the whole note; it is never merged section by section.
type NoteGenerator interface {
	GenerateFromText(ctx context.Context, text string, language string) (domain.SoapNote, error)
}

// RecordStore persists a completed record snapshot.
type RecordStore interface {
	SaveRecord(ctx context.Context, snapshot domain.RecordSnapshot) (domain.RecordID, error)
}

// AppointmentSource supplies the read-only appointment index.
type AppointmentSource interface {
	Appointments(ctx context.Context, from string, to string) (domain.AppointmentIndex, error)
}

// RulesEngine normalizes dictated transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// EventSink pushes workflow state and results to the interactive surface.
type EventSink interface {
	AudioStateChanged(state domain.AudioState, reason domain.StateReason)
	CameraStateChanged(state domain.CameraState, reason domain.StateReason)
	PartialTranscript(text string)
	TranscriptChanged(text string)
	ActionErrors(code domain.ErrorCode, messages []string)
	RecordSaved(id domain.RecordID)
	AppointmentsChanged()
}
