package domain

// AudioState models the voice capture lifecycle.
type AudioState string

const (
	AudioStateIdle      AudioState = "idle"
	AudioStateAcquiring AudioState = "acquiring"
	AudioStateRecording AudioState = "recording"
	AudioStateListening AudioState = "listening"
	AudioStateError     AudioState = "error"
)

// CameraState models the photo capture lifecycle.
type CameraState string

const (
	CameraStateIdle       CameraState = "idle"
	CameraStateOpening    CameraState = "opening"
	CameraStatePreviewing CameraState = "previewing"
	CameraStateError      CameraState = "error"
)

// StateReason gives a structured reason for a session state transition.
type StateReason string

const (
	ReasonRecordingStarted    StateReason = "recording_started"
	ReasonListeningStarted    StateReason = "listening_started"
	ReasonSessionRestarted    StateReason = "session_restarted"
	ReasonTranscribing        StateReason = "transcribing"
	ReasonTranscriptReady     StateReason = "transcript_ready"
	ReasonNoTranscript        StateReason = "no_transcript"
	ReasonTranscriptionFailed StateReason = "transcription_failed"
	ReasonAudioImported       StateReason = "audio_imported"
	ReasonAudioRemoved        StateReason = "audio_removed"
	ReasonSessionStopped      StateReason = "session_stopped"
	ReasonAcquisitionFailed   StateReason = "acquisition_failed"
	ReasonCameraOpened        StateReason = "camera_opened"
	ReasonCameraClosed        StateReason = "camera_closed"
)

// ErrorCode classifies non-fatal workflow errors pushed to the surface.
type ErrorCode string

const (
	ErrorCodeStartup      ErrorCode = "startup"
	ErrorCodeAcquisition  ErrorCode = "acquisition"
	ErrorCodeAudioStop    ErrorCode = "audio_stop"
	ErrorCodeAudioStream  ErrorCode = "audio_stream"
	ErrorCodeTranscribe   ErrorCode = "transcription"
	ErrorCodeCapture      ErrorCode = "capture"
	ErrorCodeValidation   ErrorCode = "validation"
	ErrorCodeGeneration   ErrorCode = "generation"
	ErrorCodeSave         ErrorCode = "save"
	ErrorCodeAppointments ErrorCode = "appointments"
)

// TranscriptKind identifies whether a stream event is interim or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent is incremental recognition output from a provider stream.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// Status summarizes the capture workflow for the surface.
type Status struct {
	Audio      AudioState  `json:"audio"`
	Camera     CameraState `json:"camera"`
	Submitting bool        `json:"submitting"`
	Message    string      `json:"message,omitempty"`
}
