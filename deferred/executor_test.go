package deferred

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func waitHandle(t *testing.T, h *Handle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("handle did not finish")
	}
	return err
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestExecutor_RunsAfterDelay(t *testing.T) {
	e := New()
	defer e.Close()

	start := time.Now()
	var ranAt atomic.Int64
	h := e.Schedule(30*time.Millisecond, func(ctx context.Context) error {
		ranAt.Store(int64(time.Since(start)))
		return nil
	})

	if h.Started() {
		t.Error("work must not start before the delay")
	}
	if err := waitHandle(t, h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Duration(ranAt.Load()) < 30*time.Millisecond {
		t.Errorf("work ran after %v, before the delay", time.Duration(ranAt.Load()))
	}
	if !h.Started() {
		t.Error("finished work should report started")
	}
}

func TestExecutor_ScheduleDoesNotBlock(t *testing.T) {
	e := New()
	defer e.Close()

	release := make(chan struct{})
	start := time.Now()
	h := e.Schedule(0, func(ctx context.Context) error {
		<-release
		return nil
	})
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Schedule blocked on work")
	}
	close(release)
	waitHandle(t, h)
}

func TestExecutor_WorkError(t *testing.T) {
	e := New()
	defer e.Close()

	cause := errors.New("boom")
	h := e.Schedule(0, func(ctx context.Context) error { return cause })
	if err := waitHandle(t, h); !errors.Is(err, cause) {
		t.Errorf("expected cause, got %v", err)
	}
}

func TestExecutor_PanicRecovered(t *testing.T) {
	e := New()
	defer e.Close()

	h := e.Schedule(0, func(ctx context.Context) error { panic("bad") })
	if err := waitHandle(t, h); !errors.Is(err, ErrPanicked) {
		t.Errorf("expected ErrPanicked, got %v", err)
	}
}

func TestHandle_Cancel(t *testing.T) {
	e := New()
	defer e.Close()

	var ran atomic.Bool
	h := e.Schedule(time.Hour, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if e.Pending() != 1 {
		t.Errorf("expected 1 pending, got %d", e.Pending())
	}
	if !h.Cancel() {
		t.Fatal("cancel before start should succeed")
	}
	if h.Cancel() {
		t.Error("second cancel should report false")
	}
	if err := waitHandle(t, h); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if ran.Load() || e.Pending() != 0 {
		t.Error("cancelled work must not run or stay pending")
	}
}

func TestHandle_CancelAfterStart(t *testing.T) {
	e := New()
	defer e.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	h := e.Schedule(0, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	if h.Cancel() {
		t.Error("running work cannot be cancelled")
	}
	close(release)
	if err := waitHandle(t, h); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestExecutor_Close(t *testing.T) {
	e := New()

	started := make(chan struct{})
	var finished atomic.Bool
	running := e.Schedule(0, func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	waiting := e.Schedule(time.Hour, func(ctx context.Context) error { return nil })
	<-started

	e.Close()
	e.Close()

	if !finished.Load() {
		t.Error("Close should wait for running work")
	}
	if err := running.Err(); err != nil {
		t.Errorf("running work: %v", err)
	}
	if err := waiting.Err(); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected pending work cancelled, got %v", err)
	}

	late := e.Schedule(0, func(ctx context.Context) error { return nil })
	if err := late.Err(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestExecutor_CloseCancelsWorkContext(t *testing.T) {
	e := New()

	var workCtx context.Context
	h := e.Schedule(0, func(ctx context.Context) error {
		workCtx = ctx
		return nil
	})
	waitHandle(t, h)
	e.Close()

	if workCtx.Err() == nil {
		t.Error("work context should be cancelled after Close")
	}
}

// ============================================================================
// Property Tests
// ============================================================================

// Each scheduled unit runs exactly once or is cancelled, never both.
func TestProperty_RunsOnceOrCancelled(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		cancelMask := rapid.SliceOfN(rapid.Bool(), n, n).Draw(rt, "cancel")

		e := New()
		runs := make([]atomic.Int32, n)
		handles := make([]*Handle, n)
		for i := 0; i < n; i++ {
			delay := time.Millisecond
			if cancelMask[i] {
				delay = time.Hour
			}
			handles[i] = e.Schedule(delay, func(ctx context.Context) error {
				runs[i].Add(1)
				return nil
			})
		}
		cancelled := make([]bool, n)
		for i, h := range handles {
			if cancelMask[i] {
				cancelled[i] = h.Cancel()
			}
		}
		for _, h := range handles {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = h.Wait(ctx)
			cancel()
		}
		e.Close()

		for i := range handles {
			got := runs[i].Load()
			if cancelled[i] && got != 0 {
				rt.Fatalf("handle %d cancelled but ran %d times", i, got)
			}
			if !cancelled[i] && got != 1 {
				rt.Fatalf("handle %d ran %d times", i, got)
			}
		}
	})
}
