// Package deepgram implements live and prerecorded speech recognition against
// the Deepgram API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vetchart/internal/domain"
	"vetchart/internal/ports"
)

// Config controls Deepgram connection settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

const (
	defaultBaseURL = "https://api.deepgram.com/v1"
	defaultModel   = "nova-2"
)

// Provider implements ports.TranscriptionProvider and ports.Transcriber.
type Provider struct {
	cfg    Config
	logger *zap.Logger

	restMu sync.Mutex
	rest   *resty.Client
}

func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger}
}

// StartStreaming dials the live recognition websocket and returns a session
// that pushes transcript events until the stream is closed.
func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	wsURL, err := listenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to recognition stream: %w", err)
	}

	p.logger.Debug("recognition stream opened", zap.String("model", p.cfg.Model))

	session := &liveSession{
		conn:      conn,
		events:    make(chan domain.TranscriptEvent, 64),
		audio:     make(chan []byte, 32),
		closeSend: make(chan struct{}),
		done:      make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = session.Close()
	}()

	return session, nil
}

type liveSession struct {
	conn *websocket.Conn

	// audio is never closed; a sender blocked on a full buffer would race a
	// close and panic. closeSend is the shutdown signal instead, and it also
	// unblocks stalled senders.
	events    chan domain.TranscriptEvent
	audio     chan []byte
	closeSend chan struct{}
	done      chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func (s *liveSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	select {
	case <-s.closeSend:
		return errors.New("audio stream is already closed")
	default:
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.closeSend:
		return errors.New("audio stream is already closed")
	case <-s.done:
		if err := s.streamErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

func (s *liveSession) CloseSend() error {
	s.closeSendOnce.Do(func() { close(s.closeSend) })
	return nil
}

func (s *liveSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *liveSession) Wait() error {
	<-s.done
	return s.streamErr()
}

func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.streamErr()
}

func (s *liveSession) streamErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *liveSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *liveSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		case <-s.closeSend:
			if !s.drainAudio() {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
				s.setErr(fmt.Errorf("failed to close stream: %w", err))
			}
			return
		}
	}
}

// drainAudio flushes chunks still buffered at shutdown. Reports whether the
// connection is still usable.
func (s *liveSession) drainAudio() bool {
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return false
			}
		default:
			return true
		}
	}
}

func (s *liveSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read recognition event: %w", err))
			return
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "recognition service returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		text := response.transcript()
		if text == "" {
			continue
		}

		event := domain.TranscriptEvent{Text: text, IsSpeechFinal: response.SpeechFinal}
		if response.IsFinal || response.SpeechFinal {
			event.Kind = domain.TranscriptKindFinal
		} else {
			event.Kind = domain.TranscriptKindPartial
		}
		s.emit(event)
	}
}

func (s *liveSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.done:
	default:
	}
}

type listenAlternative struct {
	Transcript string `json:"transcript"`
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []listenAlternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []listenAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// transcript pulls the top alternative from whichever response shape the
// server used (streaming puts it under channel, batch under results).
func (r listenResponse) transcript() string {
	if len(r.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(r.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(r.Results.Channels) > 0 && len(r.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(r.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func listenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid recognition API base URL: %w", err)
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	query := u.Query()
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	query.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	language := streamCfg.Language
	if language == "" {
		language = providerCfg.Language
	}
	if language != "" {
		query.Set("language", language)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
