// Package async is the admission control of the pipeline: a bounded worker
// pool with a FIFO queue in front of it. A document occupies exactly one
// worker slot from rasterization to the confidence gate; everything beyond
// the pool size waits in the queue.
package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue after Shutdown has begun.
var ErrQueueClosed = errors.New("async: pool is shutting down")

// Work is one document's full pipeline run. The context carries the
// per-document budget and is cancelled on Task.Cancel and on shutdown
// timeout.
type Work func(ctx context.Context) error

type entry struct {
	task *Task
	run  Work
}

type Pool struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration
	onSkip  func(uuid.UUID)

	ch     chan entry
	wg     sync.WaitGroup
	once   sync.Once
	active atomic.Int64

	mu     sync.Mutex
	closed bool
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan entry, n)
		}
	}
}

// WithSkipHandler installs a callback invoked with the document ID whenever
// a task is withdrawn before a worker picks it up. The run function never
// executes for such a task, so any bookkeeping the run would have done falls
// to this handler.
func WithSkipHandler(fn func(uuid.UUID)) Option {
	return func(p *Pool) { p.onSkip = fn }
}

// WithDocumentTimeout bounds one document's whole run through the pipeline.
func WithDocumentTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPool(logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan entry, 256),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Info("async.worker.started", "worker_id", workerID)

				for e := range p.ch {
					p.runOne(workerID, e)
				}

				p.logger.Info("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (p *Pool) runOne(workerID int, e entry) {
	if e.task.isCancelled() {
		e.task.finish(context.Canceled)
		if p.onSkip != nil {
			p.onSkip(e.task.DocumentID)
		}
		p.logger.Info("async.task.skipped", "worker_id", workerID, "doc_id", e.task.DocumentID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	e.task.bindCancel(cancel)
	// a Cancel that raced the pickup check lands on the context instead
	if e.task.isCancelled() {
		cancel()
	}

	p.active.Add(1)
	err := e.run(ctx)
	p.active.Add(-1)
	cancel()

	e.task.finish(err)
	if err != nil {
		p.logger.Error("async.task.failed", "worker_id", workerID, "doc_id", e.task.DocumentID, "error", err)
	} else {
		p.logger.Info("async.task.done", "worker_id", workerID, "doc_id", e.task.DocumentID)
	}
}

// Enqueue admits a document and returns its future. When the queue is full
// Enqueue blocks, which is the backpressure the ingest side relies on.
func (p *Pool) Enqueue(ctx context.Context, id uuid.UUID, run Work) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrQueueClosed
	}

	t := newTask(id)
	e := entry{task: t, run: run}
	select {
	case p.ch <- e:
		p.logger.Info("async.enqueued", "doc_id", id, "depth", len(p.ch))
	default:
		p.logger.Warn("async.queue_full", "doc_id", id)
		select {
		case p.ch <- e:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return t, nil
}

// Depth reports how many documents are waiting in the queue.
func (p *Pool) Depth() int { return len(p.ch) }

// Active reports how many worker slots are currently occupied.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Shutdown stops admissions, drains the queue and waits for running
// documents, up to the context's deadline.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("async.shutdown.interrupted")
	case <-done:
		p.logger.Info("async.shutdown.complete")
	}
}
