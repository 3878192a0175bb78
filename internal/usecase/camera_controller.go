package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vetchart/internal/domain"
	"vetchart/internal/i18n"
	"vetchart/internal/media"
	"vetchart/internal/ports"
)

var (
	// ErrPreviewNotReady means the preview has not produced a usable frame yet.
	ErrPreviewNotReady = errors.New("camera preview has no frame yet")
	// ErrCameraClosed means capture was attempted without an open preview.
	ErrCameraClosed = errors.New("camera preview is not open")
)

const capturedImageType = "image/jpeg"

// CameraController runs the photo capture session: open a preview, sample
// frames into image artifacts, close. The camera handle is released on every
// exit path, including teardown while a preview is open.
type CameraController struct {
	guard   *media.Guard
	capture ports.CameraCapture
	events  ports.EventSink
	labels  *i18n.Catalog
	cfg     ports.CameraConfig
	logger  *zap.Logger

	mu      sync.Mutex
	handle  *media.Handle
	session ports.CameraSession
	cancel  func()

	stateMu sync.Mutex
	state   domain.CameraState
}

func NewCameraController(
	guard *media.Guard,
	capture ports.CameraCapture,
	events ports.EventSink,
	labels *i18n.Catalog,
	cfg ports.CameraConfig,
	logger *zap.Logger,
) *CameraController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CameraController{
		guard:   guard,
		capture: capture,
		events:  events,
		labels:  labels,
		cfg:     cfg,
		logger:  logger,
		state:   domain.CameraStateIdle,
	}
}

// State returns the current camera session state.
func (c *CameraController) State() domain.CameraState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *CameraController) setState(state domain.CameraState, reason domain.StateReason) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
	c.events.CameraStateChanged(state, reason)
}

// Open acquires the camera and starts the preview. Opening an already open
// preview is a no-op.
func (c *CameraController) Open(ctx context.Context) error {
	c.mu.Lock()
	alreadyOpen := c.session != nil
	c.mu.Unlock()
	if alreadyOpen {
		return nil
	}

	c.setState(domain.CameraStateOpening, domain.ReasonCameraOpened)

	sessionCtx, cancel := context.WithCancel(ctx)

	var session ports.CameraSession
	handle, err := c.guard.Acquire(sessionCtx, media.KindCamera, func(ctx context.Context) (media.Releaser, error) {
		s, openErr := c.capture.Open(ctx, c.cfg)
		if openErr != nil {
			return nil, openErr
		}
		session = s
		return s, nil
	})
	if err != nil {
		cancel()
		c.events.ActionErrors(domain.ErrorCodeAcquisition,
			[]string{c.labels.Lookup(i18n.KeyErrCameraAccess) + ": " + err.Error()})
		c.setState(domain.CameraStateError, domain.ReasonAcquisitionFailed)
		return err
	}

	c.mu.Lock()
	c.handle = handle
	c.session = session
	c.cancel = cancel
	c.mu.Unlock()

	c.setState(domain.CameraStatePreviewing, domain.ReasonCameraOpened)
	return nil
}

// Capture synchronously samples the current preview frame into an image
// artifact. At most one capture completes per invocation; names are
// collision-resistant and the content type is fixed.
func (c *CameraController) Capture() (domain.ImageArtifact, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return domain.ImageArtifact{}, ErrCameraClosed
	}

	frame, ok := session.LatestFrame()
	if !ok {
		return domain.ImageArtifact{}, ErrPreviewNotReady
	}

	artifact := domain.ImageArtifact{
		Name:        "photo_" + uuid.NewString() + ".jpg",
		ContentType: capturedImageType,
		Data:        frame,
		Source:      domain.ImageSourceCamera,
	}
	c.logger.Debug("frame captured",
		zap.String("name", artifact.Name),
		zap.Int("bytes", len(frame)),
	)
	return artifact, nil
}

// Close releases the camera and returns to idle. Always safe to call, open
// preview or not.
func (c *CameraController) Close() {
	c.mu.Lock()
	handle := c.handle
	cancel := c.cancel
	c.handle = nil
	c.session = nil
	c.cancel = nil
	c.mu.Unlock()

	if handle == nil {
		return
	}

	if err := handle.Release(); err != nil {
		c.logger.Warn("camera release reported error", zap.Error(err))
	}
	cancel()
	c.setState(domain.CameraStateIdle, domain.ReasonCameraClosed)
}
