// Package deferred runs units of work after a fixed delay on their own goroutine.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCancelled is reported by a handle cancelled before its work started
	ErrCancelled = errors.New("deferred work cancelled")
	// ErrClosed is reported by work scheduled on a closed executor
	ErrClosed = errors.New("deferred executor closed")
	// ErrPanicked wraps a panic raised by work
	ErrPanicked = errors.New("deferred work panicked")
)

// Work is a unit of deferred work.
type Work func(ctx context.Context) error

// Executor schedules work after a delay without blocking the caller.
type Executor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending map[*Handle]struct{}
	wg      sync.WaitGroup
}

// New creates an executor. Work receives a context cancelled by Close.
func New() *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[*Handle]struct{}),
	}
}

// Schedule runs work exactly once, not before delay has elapsed.
// It never blocks; failures are reported through the returned handle.
func (e *Executor) Schedule(delay time.Duration, work Work) *Handle {
	h := &Handle{done: make(chan struct{})}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		h.finish(ErrClosed)
		return h
	}

	e.pending[h] = struct{}{}
	e.wg.Add(1)
	h.timer = time.AfterFunc(delay, func() {
		defer e.wg.Done()
		e.forget(h)
		if !h.start() {
			return
		}
		h.finish(run(e.ctx, work))
	})
	h.onCancel = func() {
		e.forget(h)
		e.wg.Done()
	}
	return h
}

// Close cancels every handle that has not started and waits for running work.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	handles := make([]*Handle, 0, len(e.pending))
	for h := range e.pending {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	e.wg.Wait()
	e.cancel()
}

// Pending returns the number of handles whose work has not started.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Executor) forget(h *Handle) {
	e.mu.Lock()
	delete(e.pending, h)
	e.mu.Unlock()
}

// run executes work and converts a panic into an error.
func run(ctx context.Context, work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return work(ctx)
}

type handleState int

const (
	handleScheduled handleState = iota
	handleRunning
	handleCancelled
	handleFinished
)

// Handle tracks one scheduled unit of work.
type Handle struct {
	mu       sync.Mutex
	state    handleState
	timer    *time.Timer
	onCancel func()
	err      error
	done     chan struct{}
}

// Cancel prevents the work from running if it has not started.
// It reports whether the cancellation took effect.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	if h.state != handleScheduled || h.timer == nil || !h.timer.Stop() {
		h.mu.Unlock()
		return false
	}
	h.state = handleCancelled
	h.err = ErrCancelled
	onCancel := h.onCancel
	close(h.done)
	h.mu.Unlock()

	if onCancel != nil {
		onCancel()
	}
	return true
}

// Done is closed once the work finished or was cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the work's error after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the work finished or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started reports whether the work has begun running.
func (h *Handle) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == handleRunning || h.state == handleFinished
}

func (h *Handle) start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleScheduled {
		return false
	}
	h.state = handleRunning
	return true
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = handleFinished
	h.err = err
	close(h.done)
}
