package main

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vetchart/internal/domain"
)

// event is one message on the surface stream.
type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans workflow events out to every connected surface client. It
// implements ports.EventSink; a slow or dead client is dropped rather than
// blocking the workflow.
type Hub struct {
	logger *zap.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// SetLogger swaps in the real logger once configuration has loaded. The hub
// is created before the logger because it is a bootstrap input.
func (h *Hub) SetLogger(logger *zap.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Add registers a client connection for event delivery.
func (h *Hub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

// Remove drops a client connection.
func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

func (h *Hub) broadcast(e event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		if err := conn.WriteJSON(e); err != nil {
			h.logger.Debug("dropping event client", zap.Error(err))
			_ = conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *Hub) AudioStateChanged(state domain.AudioState, reason domain.StateReason) {
	h.broadcast(event{Type: "audio_state", Payload: map[string]string{
		"state":  string(state),
		"reason": string(reason),
	}})
}

func (h *Hub) CameraStateChanged(state domain.CameraState, reason domain.StateReason) {
	h.broadcast(event{Type: "camera_state", Payload: map[string]string{
		"state":  string(state),
		"reason": string(reason),
	}})
}

func (h *Hub) PartialTranscript(text string) {
	h.broadcast(event{Type: "partial_transcript", Payload: text})
}

func (h *Hub) TranscriptChanged(text string) {
	h.broadcast(event{Type: "transcript", Payload: text})
}

func (h *Hub) ActionErrors(code domain.ErrorCode, messages []string) {
	h.broadcast(event{Type: "errors", Payload: map[string]any{
		"code":     string(code),
		"messages": messages,
	}})
}

func (h *Hub) RecordSaved(id domain.RecordID) {
	h.broadcast(event{Type: "record_saved", Payload: string(id)})
}

func (h *Hub) AppointmentsChanged() {
	h.broadcast(event{Type: "appointments_changed"})
}
