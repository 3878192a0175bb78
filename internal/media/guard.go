// Package media guards exclusive access to capture devices. A device kind has
// at most one holder at a time, and every acquired handle is released exactly
// once no matter which exit path the owning session takes.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Kind identifies a capture device class.
type Kind string

const (
	KindMicrophone Kind = "microphone"
	KindCamera     Kind = "camera"
)

var (
	// ErrPermissionDenied means the OS refused access to the device.
	ErrPermissionDenied = errors.New("device permission denied")
	// ErrDeviceUnavailable means the device could not be opened.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrDeviceBusy means the kind already has a holder.
	ErrDeviceBusy = errors.New("device already in use")
)

// Releaser is the underlying device resource shut down on release.
type Releaser interface {
	Stop() error
}

// OpenFunc opens the underlying device once the guard has reserved the slot.
type OpenFunc func(ctx context.Context) (Releaser, error)

// Guard tracks the single holder per device kind.
type Guard struct {
	logger *zap.Logger

	mu   sync.Mutex
	held map[Kind]*Handle
}

func NewGuard(logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{logger: logger, held: make(map[Kind]*Handle)}
}

// Acquire reserves the kind and opens the device. The slot is reserved before
// open runs so a concurrent start of the same kind fails fast with
// ErrDeviceBusy instead of double-opening. If open fails the slot is freed and
// the error is classified as permission-denied or unavailable.
func (g *Guard) Acquire(ctx context.Context, kind Kind, open OpenFunc) (*Handle, error) {
	h := &Handle{kind: kind, guard: g}

	g.mu.Lock()
	if g.held[kind] != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", kind, ErrDeviceBusy)
	}
	g.held[kind] = h
	g.mu.Unlock()

	resource, err := open(ctx)
	if err != nil {
		g.free(h)
		return nil, classifyAcquireError(kind, err)
	}

	h.mu.Lock()
	h.resource = resource
	released := h.released
	h.mu.Unlock()

	// The owner may have released mid-acquisition; honor it immediately.
	if released {
		_ = resource.Stop()
		return nil, fmt.Errorf("%s: acquisition canceled", kind)
	}

	g.logger.Debug("device acquired", zap.String("kind", string(kind)))
	return h, nil
}

// Holding reports whether the kind currently has a holder.
func (g *Guard) Holding(kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[kind] != nil
}

func (g *Guard) free(h *Handle) {
	g.mu.Lock()
	if g.held[h.kind] == h {
		delete(g.held, h.kind)
	}
	g.mu.Unlock()
}

// Handle is an acquired device slot. Release is idempotent and safe to call
// while acquisition is still in flight.
type Handle struct {
	kind  Kind
	guard *Guard

	mu       sync.Mutex
	resource Releaser
	released bool

	once    sync.Once
	stopErr error
}

func (h *Handle) Kind() Kind { return h.kind }

// Release frees the guard slot and stops the underlying device. Calling it
// again, or on a handle whose acquisition later fails, is a no-op.
func (h *Handle) Release() error {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		resource := h.resource
		h.mu.Unlock()

		if resource != nil {
			h.stopErr = resource.Stop()
		}
		h.guard.free(h)
		h.guard.logger.Debug("device released", zap.String("kind", string(h.kind)))
	})
	return h.stopErr
}

func classifyAcquireError(kind Kind, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%s: %w: %v", kind, ErrPermissionDenied, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: acquisition canceled: %w", kind, err)
	}
	return fmt.Errorf("%s: %w: %v", kind, ErrDeviceUnavailable, err)
}
