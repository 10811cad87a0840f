package lock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

func testLock(t *testing.T, timeout time.Duration) *Lock {
	t.Helper()
	return New(filepath.Join(t.TempDir(), ".lock"), timeout)
}

func TestExclusiveRoundTrip(t *testing.T) {
	l := testLock(t, time.Second)
	release, err := l.Exclusive(context.Background())
	if err != nil {
		t.Fatalf("Exclusive failed: %v", err)
	}
	release()

	// Reacquirable after release.
	release, err = l.Exclusive(context.Background())
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	release()
}

func TestSharedDoesNotBlockShared(t *testing.T) {
	l := testLock(t, time.Second)
	r1, err := l.Shared(context.Background())
	if err != nil {
		t.Fatalf("first Shared failed: %v", err)
	}
	defer r1()
	r2, err := l.Shared(context.Background())
	if err != nil {
		t.Fatalf("second Shared failed: %v", err)
	}
	r2()
}

func TestCancelledContext(t *testing.T) {
	l := testLock(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Exclusive(ctx); err == nil {
		t.Error("acquired lock with cancelled context")
	}
}

func TestBusyErrorShape(t *testing.T) {
	// A zero timeout is replaced with the default; use a short one and an
	// already-expired context to exercise the Busy path without waiting.
	l := testLock(t, 50*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := l.Exclusive(ctx)
	if err == nil {
		t.Fatal("expected acquisition failure")
	}
	if !errors.Is(err, types.ErrBusy) && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want Busy or DeadlineExceeded", err)
	}
}
