package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrWaitTimeout is returned by Task.Wait when the deadline passes before
// the task finishes. The task itself keeps running.
var ErrWaitTimeout = errors.New("async: wait timed out")

// Task is the future handed back by Enqueue. It completes exactly once;
// Wait and Err observe the same final error.
type Task struct {
	DocumentID uuid.UUID

	done chan struct{}
	err  error

	mu        sync.Mutex
	cancel    context.CancelFunc // nil until a worker picks the task up
	cancelled bool
}

func newTask(id uuid.UUID) *Task {
	return &Task{DocumentID: id, done: make(chan struct{})}
}

// Wait blocks until the task finishes or the timeout passes. A zero or
// negative timeout waits indefinitely.
func (t *Task) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-t.done
		return t.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return t.err
	case <-timer.C:
		return ErrWaitTimeout
	}
}

// Done returns a channel closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the final error, or nil while the task is still running.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancel withdraws the task. A queued task never runs; a running task has
// its context cancelled and finishes with context.Canceled.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Task) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Task) bindCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}
