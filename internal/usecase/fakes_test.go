package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"vetchart/internal/domain"
	"vetchart/internal/i18n"
	"vetchart/internal/media"
	"vetchart/internal/ports"
)

func testLabels() *i18n.Catalog {
	return i18n.NewCatalog(i18n.LangEnglish)
}

func testGuard() *media.Guard {
	return media.NewGuard(zap.NewNop())
}

func cameraTestConfig() ports.CameraConfig {
	return ports.CameraConfig{
		InputFormat: "v4l2",
		InputDevice: "/dev/video0",
		Width:       640,
		Height:      480,
		FrameRate:   10,
	}
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopErr   error
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index >= len(f.chunks) {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[f.index])
	f.index++
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeStreamingProvider struct {
	mu       sync.Mutex
	sessions []ports.StreamingSession
	err      error
	calls    int
}

func (f *fakeStreamingProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeStreamingSession struct {
	mu         sync.Mutex
	events     chan domain.TranscriptEvent
	waitErr    error
	closeSend  int
	closeCalls int
	closed     bool
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
}

func (f *fakeStreamingSession) SendAudio(_ []byte) error { return nil }

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	last  domain.AudioArtifact
}

func (f *fakeTranscriber) Transcribe(_ context.Context, artifact domain.AudioArtifact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = artifact
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	note  domain.SoapNote
	err   error
	calls int
	text  string
}

func (f *fakeGenerator) GenerateFromText(_ context.Context, text string, _ string) (domain.SoapNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.text = text
	if f.err != nil {
		return domain.SoapNote{}, f.err
	}
	return f.note, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu    sync.Mutex
	id    domain.RecordID
	err   error
	calls int
	last  domain.RecordSnapshot
	// block, when set, parks SaveRecord until the channel is closed.
	block chan struct{}
}

func (f *fakeStore) SaveRecord(_ context.Context, snapshot domain.RecordSnapshot) (domain.RecordID, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = snapshot
	if f.err != nil {
		return "", f.err
	}
	if f.id == "" {
		return "record-1", nil
	}
	return f.id, nil
}

func (f *fakeStore) saved() (int, domain.RecordSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.last
}

type fakeCameraCapture struct {
	mu       sync.Mutex
	sessions []ports.CameraSession
	err      error
	calls    int
}

func (f *fakeCameraCapture) Open(_ context.Context, _ ports.CameraConfig) (ports.CameraSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no camera session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeCameraSession struct {
	mu        sync.Mutex
	frame     []byte
	stopCalls int
}

func (f *fakeCameraSession) LatestFrame() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frame == nil {
		return nil, false
	}
	return append([]byte(nil), f.frame...), true
}

func (f *fakeCameraSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeCameraSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type stateEvent struct {
	audio  domain.AudioState
	camera domain.CameraState
	reason domain.StateReason
}

type errEvent struct {
	code     domain.ErrorCode
	messages []string
}

type fakeEventSink struct {
	mu sync.Mutex

	audioStates  []stateEvent
	cameraStates []stateEvent
	partials     []string
	transcripts  []string
	errors       []errEvent
	savedIDs     []domain.RecordID
	apptChanges  int
}

func (f *fakeEventSink) AudioStateChanged(state domain.AudioState, reason domain.StateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioStates = append(f.audioStates, stateEvent{audio: state, reason: reason})
}

func (f *fakeEventSink) CameraStateChanged(state domain.CameraState, reason domain.StateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cameraStates = append(f.cameraStates, stateEvent{camera: state, reason: reason})
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) TranscriptChanged(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, text)
}

func (f *fakeEventSink) ActionErrors(code domain.ErrorCode, messages []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, messages: append([]string(nil), messages...)})
}

func (f *fakeEventSink) RecordSaved(id domain.RecordID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedIDs = append(f.savedIDs, id)
}

func (f *fakeEventSink) AppointmentsChanged() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apptChanges++
}

func (f *fakeEventSink) snapshotAudioStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.audioStates))
	copy(out, f.audioStates)
	return out
}

func (f *fakeEventSink) snapshotCameraStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.cameraStates))
	copy(out, f.cameraStates)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotTranscripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.transcripts))
	copy(out, f.transcripts)
	return out
}

func (f *fakeEventSink) appointmentChanges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apptChanges
}

func (f *fakeEventSink) recordIDs() []domain.RecordID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RecordID, len(f.savedIDs))
	copy(out, f.savedIDs)
	return out
}

// sinkTranscript is a minimal transcript holder for audio controller tests
// that do not need the full composer.
type sinkTranscript struct {
	mu   sync.Mutex
	text string
}

func (s *sinkTranscript) ReplaceTranscript(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
	return s.text
}

func (s *sinkTranscript) AppendTranscript(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text == "" {
		s.text = text
	} else {
		s.text += " " + text
	}
	return s.text
}

func (s *sinkTranscript) value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}
