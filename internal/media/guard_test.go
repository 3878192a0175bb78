package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
)

type stubResource struct {
	mu        sync.Mutex
	stopCalls int
	stopErr   error
}

func (s *stubResource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return s.stopErr
}

func (s *stubResource) stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

func openStub(resource *stubResource) OpenFunc {
	return func(context.Context) (Releaser, error) { return resource, nil }
}

func TestGuardAcquireRelease(t *testing.T) {
	t.Parallel()

	guard := NewGuard(nil)
	resource := &stubResource{}

	handle, err := guard.Acquire(context.Background(), KindMicrophone, openStub(resource))
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !guard.Holding(KindMicrophone) {
		t.Fatalf("expected microphone held")
	}
	if handle.Kind() != KindMicrophone {
		t.Fatalf("unexpected kind: %s", handle.Kind())
	}

	if err := handle.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if guard.Holding(KindMicrophone) {
		t.Fatalf("expected slot freed")
	}
	if resource.stops() != 1 {
		t.Fatalf("expected one stop, got %d", resource.stops())
	}
}

func TestGuardSecondAcquireFailsFast(t *testing.T) {
	t.Parallel()

	guard := NewGuard(nil)
	handle, err := guard.Acquire(context.Background(), KindCamera, openStub(&stubResource{}))
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	opened := false
	_, err = guard.Acquire(context.Background(), KindCamera, func(context.Context) (Releaser, error) {
		opened = true
		return &stubResource{}, nil
	})
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if opened {
		t.Fatalf("open must not run while the slot is held")
	}

	_ = handle.Release()
	if _, err := guard.Acquire(context.Background(), KindCamera, openStub(&stubResource{})); err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
}

func TestGuardKindsAreIndependent(t *testing.T) {
	t.Parallel()

	guard := NewGuard(nil)
	mic, err := guard.Acquire(context.Background(), KindMicrophone, openStub(&stubResource{}))
	if err != nil {
		t.Fatalf("mic acquire failed: %v", err)
	}
	cam, err := guard.Acquire(context.Background(), KindCamera, openStub(&stubResource{}))
	if err != nil {
		t.Fatalf("camera acquire failed: %v", err)
	}
	_ = mic.Release()
	_ = cam.Release()
}

func TestGuardOpenFailureFreesSlot(t *testing.T) {
	t.Parallel()

	guard := NewGuard(nil)
	_, err := guard.Acquire(context.Background(), KindMicrophone, func(context.Context) (Releaser, error) {
		return nil, errors.New("boom")
	})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected unavailable classification, got %v", err)
	}
	if guard.Holding(KindMicrophone) {
		t.Fatalf("slot must be freed after a failed open")
	}
}

func TestGuardClassifiesPermissionError(t *testing.T) {
	t.Parallel()

	guard := NewGuard(nil)
	_, err := guard.Acquire(context.Background(), KindCamera, func(context.Context) (Releaser, error) {
		return nil, fmt.Errorf("open device: %w", os.ErrPermission)
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission classification, got %v", err)
	}
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	guard := NewGuard(nil)
	resource := &stubResource{stopErr: errors.New("stop failed")}
	handle, err := guard.Acquire(context.Background(), KindMicrophone, openStub(resource))
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	first := handle.Release()
	second := handle.Release()
	if first == nil || second == nil || first.Error() != second.Error() {
		t.Fatalf("release must report the same stop error every time: %v / %v", first, second)
	}
	if resource.stops() != 1 {
		t.Fatalf("stop must run once, got %d", resource.stops())
	}
}

func TestGuardReleaseDuringAcquisition(t *testing.T) {
	t.Parallel()

	guard := NewGuard(nil)
	resource := &stubResource{}
	opening := make(chan *Handle, 1)
	proceed := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		_, err := guard.Acquire(context.Background(), KindMicrophone, func(context.Context) (Releaser, error) {
			// Hand the in-flight handle to the releasing goroutine.
			guard.mu.Lock()
			opening <- guard.held[KindMicrophone]
			guard.mu.Unlock()
			<-proceed
			return resource, nil
		})
		result <- err
	}()

	handle := <-opening
	_ = handle.Release()
	close(proceed)

	if err := <-result; err == nil {
		t.Fatalf("expected canceled acquisition")
	}
	if resource.stops() != 1 {
		t.Fatalf("late-opened resource must be stopped, got %d stops", resource.stops())
	}
	if guard.Holding(KindMicrophone) {
		t.Fatalf("slot must be free after canceled acquisition")
	}
}
