package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vetchart/internal/audio"
	"vetchart/internal/domain"
	"vetchart/internal/i18n"
	"vetchart/internal/media"
	"vetchart/internal/ports"
)

var ErrNoActiveAudioSession = errors.New("no active audio session")

const streamDrainLimit = 4 * time.Second

// TranscriptSink receives transcript text produced by a capture session. The
// composer implements it; returned strings are the full transcript after the
// update.
type TranscriptSink interface {
	ReplaceTranscript(text string) string
	AppendTranscript(text string) string
}

// AudioSessionConfig controls voice capture behavior.
type AudioSessionConfig struct {
	Audio          ports.AudioConfig
	Streaming      ports.StreamingConfig
	ChunkSize      int
	StreamingGrace time.Duration
}

// AudioController orchestrates the three mutually exclusive voice input
// modes: record-then-transcribe, live recognition, and file import. Exactly
// one microphone session exists at a time and its device handle is always
// released on the way out.
type AudioController struct {
	guard       *media.Guard
	capture     ports.AudioCapture
	provider    ports.TranscriptionProvider
	transcriber ports.Transcriber
	rules       ports.RulesEngine
	events      ports.EventSink
	sink        TranscriptSink
	labels      *i18n.Catalog
	cfg         AudioSessionConfig
	logger      *zap.Logger

	mu       sync.Mutex
	current  *voiceSession
	artifact *domain.AudioArtifact

	stateMu sync.Mutex
	state   domain.AudioState
	reason  domain.StateReason
}

func NewAudioController(
	guard *media.Guard,
	capture ports.AudioCapture,
	provider ports.TranscriptionProvider,
	transcriber ports.Transcriber,
	rules ports.RulesEngine,
	events ports.EventSink,
	labels *i18n.Catalog,
	cfg AudioSessionConfig,
	logger *zap.Logger,
) *AudioController {
	if cfg.ChunkSize < minChunkSize {
		cfg.ChunkSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AudioController{
		guard:       guard,
		capture:     capture,
		provider:    provider,
		transcriber: transcriber,
		rules:       rules,
		events:      events,
		labels:      labels,
		cfg:         cfg,
		logger:      logger,
		state:       domain.AudioStateIdle,
	}
}

// SetTranscriptSink attaches the draft-side transcript target. Must be called
// before any session starts.
func (c *AudioController) SetTranscriptSink(sink TranscriptSink) {
	c.sink = sink
}

// State returns the current voice session state.
func (c *AudioController) State() domain.AudioState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// StateReason returns the reason recorded with the latest transition.
func (c *AudioController) StateReason() domain.StateReason {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.reason
}

func (c *AudioController) setState(state domain.AudioState, reason domain.StateReason) {
	c.stateMu.Lock()
	c.state = state
	c.reason = reason
	c.stateMu.Unlock()
	c.events.AudioStateChanged(state, reason)
}

// StartRecording acquires the microphone and buffers audio until Stop, which
// hands the recording to the transcription service.
func (c *AudioController) StartRecording(ctx context.Context) error {
	restarted, err := c.stopPrevious(ctx)
	if err != nil {
		return err
	}

	c.setState(domain.AudioStateAcquiring, startReason(restarted, domain.ReasonRecordingStarted))

	sessionCtx, cancel := context.WithCancel(ctx)
	device, handle, err := c.acquireMicrophone(sessionCtx)
	if err != nil {
		cancel()
		c.reportAcquireError(err)
		c.setState(domain.AudioStateError, domain.ReasonAcquisitionFailed)
		return err
	}

	session := &voiceSession{
		cancel:   cancel,
		handle:   handle,
		device:   device,
		buffer:   &pcmBuffer{},
		pumpDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	go pumpAudio(device, session.buffer, c.cfg.ChunkSize, c.events, session.pumpDone)

	c.setState(domain.AudioStateRecording, startReason(restarted, domain.ReasonRecordingStarted))
	return nil
}

// StartListening acquires the microphone and streams audio into live
// recognition; final results are appended to the transcript as they arrive.
func (c *AudioController) StartListening(ctx context.Context) error {
	restarted, err := c.stopPrevious(ctx)
	if err != nil {
		return err
	}

	c.setState(domain.AudioStateAcquiring, startReason(restarted, domain.ReasonListeningStarted))

	sessionCtx, cancel := context.WithCancel(ctx)

	streamCfg := c.cfg.Streaming
	streamCfg.Language = c.streamLanguage()
	stream, err := c.provider.StartStreaming(sessionCtx, streamCfg)
	if err != nil {
		cancel()
		c.events.ActionErrors(domain.ErrorCodeTranscribe,
			[]string{c.labels.Lookup(i18n.KeyErrTranscription) + ": " + err.Error()})
		c.setState(domain.AudioStateError, domain.ReasonAcquisitionFailed)
		return err
	}

	device, handle, err := c.acquireMicrophone(sessionCtx)
	if err != nil {
		_ = stream.Close()
		cancel()
		c.reportAcquireError(err)
		c.setState(domain.AudioStateError, domain.ReasonAcquisitionFailed)
		return err
	}

	session := &voiceSession{
		cancel:     cancel,
		handle:     handle,
		device:     device,
		stream:     stream,
		aggregator: newTranscriptAggregator(),
		eventsDone: make(chan struct{}),
		pumpDone:   make(chan struct{}),
	}

	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	go c.consumeRecognitionEvents(session)
	go pumpAudio(device, stream, c.cfg.ChunkSize, c.events, session.pumpDone)

	c.setState(domain.AudioStateListening, startReason(restarted, domain.ReasonListeningStarted))
	return nil
}

// Stop ends the active session. A recording session releases the microphone
// first and then runs transcription; a listening session drains the stream.
func (c *AudioController) Stop(ctx context.Context) error {
	c.mu.Lock()
	session := c.current
	c.current = nil
	c.mu.Unlock()

	if session == nil {
		return ErrNoActiveAudioSession
	}

	if session.listening() {
		return c.stopListening(ctx, session)
	}
	return c.stopRecording(ctx, session)
}

func (c *AudioController) stopRecording(ctx context.Context, session *voiceSession) error {
	c.setState(domain.AudioStateIdle, domain.ReasonTranscribing)

	if err := session.device.Stop(); err != nil {
		c.events.ActionErrors(domain.ErrorCodeAudioStop,
			[]string{fmt.Sprintf("failed to stop audio capture cleanly: %v", err)})
	}
	<-session.pumpDone
	releaseErr := session.handle.Release()
	session.cancel()
	if releaseErr != nil {
		c.logger.Warn("microphone release reported error", zap.Error(releaseErr))
	}

	pcm := session.buffer.Bytes()
	if len(pcm) == 0 {
		c.setState(domain.AudioStateIdle, domain.ReasonNoTranscript)
		return errors.New("no audio captured")
	}

	artifact := domain.AudioArtifact{
		Name:        fmt.Sprintf("recording_%d.wav", time.Now().UnixMilli()),
		ContentType: "audio/wav",
		Data:        audio.WrapPCM(pcm, c.cfg.Audio.SampleRate, c.cfg.Audio.Channels),
	}

	c.mu.Lock()
	c.artifact = &artifact
	c.mu.Unlock()

	return c.transcribeArtifact(ctx, artifact)
}

func (c *AudioController) stopListening(ctx context.Context, session *voiceSession) error {
	if err := session.device.Stop(); err != nil {
		c.events.ActionErrors(domain.ErrorCodeAudioStop,
			[]string{fmt.Sprintf("failed to stop audio capture cleanly: %v", err)})
	}

	if c.cfg.StreamingGrace > 0 {
		timer := time.NewTimer(c.cfg.StreamingGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	_ = session.stream.CloseSend()
	streamErr := waitForStream(session.stream, streamDrainLimit)
	<-session.eventsDone
	<-session.pumpDone

	releaseErr := session.handle.Release()
	session.cancel()
	if releaseErr != nil {
		c.logger.Warn("microphone release reported error", zap.Error(releaseErr))
	}

	// Speech cut off mid-sentence still lands in the transcript.
	if tail := session.aggregator.Tail(); tail != "" {
		c.appendFinal(tail)
	}

	if streamErr != nil {
		// Accumulated transcript text is kept; only the failure is surfaced.
		c.events.ActionErrors(domain.ErrorCodeAudioStream,
			[]string{c.labels.Lookup(i18n.KeyErrTranscription) + ": " + streamErr.Error()})
	}

	c.setState(domain.AudioStateIdle, domain.ReasonSessionStopped)
	return nil
}

// ImportFile replaces any in-progress session with a pre-recorded artifact
// and transcribes it immediately. The microphone is never acquired.
func (c *AudioController) ImportFile(ctx context.Context, artifact domain.AudioArtifact) error {
	if _, err := c.stopPrevious(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.artifact = &artifact
	c.mu.Unlock()

	c.setState(domain.AudioStateIdle, domain.ReasonAudioImported)

	if err := c.transcribeArtifact(ctx, artifact); err != nil {
		return err
	}
	return nil
}

// Transcribe re-runs transcription on the held artifact, for retry after a
// service failure.
func (c *AudioController) Transcribe(ctx context.Context) error {
	c.mu.Lock()
	artifact := c.artifact
	c.mu.Unlock()

	if artifact == nil {
		return errors.New("no audio artifact to transcribe")
	}
	return c.transcribeArtifact(ctx, *artifact)
}

// Remove discards the held audio artifact. Transcript text already derived
// from it is untouched.
func (c *AudioController) Remove() {
	c.mu.Lock()
	c.artifact = nil
	c.mu.Unlock()
	c.setState(c.State(), domain.ReasonAudioRemoved)
}

// Artifact returns the held audio artifact, if any.
func (c *AudioController) Artifact() *domain.AudioArtifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.artifact == nil {
		return nil
	}
	copied := *c.artifact
	return &copied
}

// Shutdown force-stops any active session and drops the held artifact. Used
// on workflow teardown and after a successful submission.
func (c *AudioController) Shutdown() {
	c.mu.Lock()
	session := c.current
	c.current = nil
	c.artifact = nil
	c.mu.Unlock()

	if session != nil {
		c.teardownSession(session)
		c.setState(domain.AudioStateIdle, domain.ReasonSessionStopped)
	}
}

func (c *AudioController) transcribeArtifact(ctx context.Context, artifact domain.AudioArtifact) error {
	text, err := c.transcriber.Transcribe(ctx, artifact)
	if err != nil {
		c.events.ActionErrors(domain.ErrorCodeTranscribe,
			[]string{c.labels.Lookup(i18n.KeyErrAudioFileProcess) + ": " + err.Error()})
		c.setState(domain.AudioStateError, domain.ReasonTranscriptionFailed)
		return err
	}

	cleaned, err := c.rules.Apply(text)
	if err != nil {
		c.logger.Warn("transcript rules failed; using raw text", zap.Error(err))
		cleaned = text
	}

	full := c.sink.ReplaceTranscript(cleaned)
	c.events.TranscriptChanged(full)
	c.setState(domain.AudioStateIdle, domain.ReasonTranscriptReady)
	return nil
}

func (c *AudioController) consumeRecognitionEvents(session *voiceSession) {
	defer close(session.eventsDone)

	for event := range session.stream.Events() {
		text := strings.TrimSpace(event.Text)
		if text == "" {
			continue
		}
		session.aggregator.Add(event)
		switch event.Kind {
		case domain.TranscriptKindPartial:
			c.events.PartialTranscript(text)
		case domain.TranscriptKindFinal:
			c.appendFinal(text)
		}
	}
}

func (c *AudioController) appendFinal(text string) {
	cleaned, err := c.rules.Apply(text)
	if err != nil {
		c.logger.Warn("transcript rules failed; using raw text", zap.Error(err))
		cleaned = text
	}
	full := c.sink.AppendTranscript(cleaned)
	c.events.TranscriptChanged(full)
}

// stopPrevious tears down any active session before a new mode starts. The
// stop always completes before the new acquisition is attempted.
func (c *AudioController) stopPrevious(context.Context) (restarted bool, err error) {
	c.mu.Lock()
	session := c.current
	c.current = nil
	c.mu.Unlock()

	if session == nil {
		return false, nil
	}
	c.teardownSession(session)
	return true, nil
}

func (c *AudioController) teardownSession(session *voiceSession) {
	session.cancel()
	_ = session.device.Stop()
	if session.stream != nil {
		_ = session.stream.Close()
		<-session.eventsDone
	}
	<-session.pumpDone
	_ = session.handle.Release()
}

func (c *AudioController) acquireMicrophone(ctx context.Context) (ports.AudioSession, *media.Handle, error) {
	var device ports.AudioSession
	handle, err := c.guard.Acquire(ctx, media.KindMicrophone, func(ctx context.Context) (media.Releaser, error) {
		d, startErr := c.capture.Start(ctx, c.cfg.Audio)
		if startErr != nil {
			return nil, startErr
		}
		device = d
		return d, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return device, handle, nil
}

func (c *AudioController) reportAcquireError(err error) {
	key := i18n.KeyErrMicAccess
	if !errors.Is(err, media.ErrPermissionDenied) {
		key = i18n.KeyErrTranscription
	}
	c.events.ActionErrors(domain.ErrorCodeAcquisition,
		[]string{c.labels.Lookup(key) + ": " + err.Error()})
}

func (c *AudioController) streamLanguage() string {
	if c.cfg.Streaming.Language != "" {
		return c.cfg.Streaming.Language
	}
	if c.labels.Lang() == i18n.LangEnglish {
		return "en"
	}
	return "ja"
}

func startReason(restarted bool, normal domain.StateReason) domain.StateReason {
	if restarted {
		return domain.ReasonSessionRestarted
	}
	return normal
}
