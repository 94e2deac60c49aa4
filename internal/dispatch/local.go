package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrQueueFull is returned when the local queue has no free slot.
	ErrQueueFull = errors.New("job queue is full")

	// ErrQueueClosed is returned after Shutdown has started.
	ErrQueueClosed = errors.New("job queue is shutting down")
)

// Executor runs one job to completion.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// LocalQueue executes jobs on a fixed set of goroutines inside the API
// process. Dispatch never blocks: a full queue is reported to the caller.
type LocalQueue struct {
	logger  *slog.Logger
	workers int

	ch     chan string
	wg     sync.WaitGroup
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Option configures a LocalQueue.
type Option func(*LocalQueue)

// WithWorkers sets the number of executing goroutines.
func WithWorkers(n int) Option {
	return func(q *LocalQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets how many jobs may wait for a worker.
func WithQueueSize(n int) Option {
	return func(q *LocalQueue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

// NewLocalQueue creates a stopped queue; call Start to begin executing.
func NewLocalQueue(logger *slog.Logger, opts ...Option) *LocalQueue {
	q := &LocalQueue{
		logger:  logger,
		workers: 4,
		ch:      make(chan string, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Start launches the workers. Later calls are no-ops.
func (q *LocalQueue) Start(exec Executor) {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("Local worker started", slog.Int("worker_id", workerID))

				for jobID := range q.ch {
					if err := exec.Execute(q.ctx, jobID); err != nil {
						q.logger.Error("Job execution ended with error",
							slog.Int("worker_id", workerID),
							slog.String("job_id", jobID),
							slog.Any("error", err),
						)
					}
				}

				q.logger.Info("Local worker stopped", slog.Int("worker_id", workerID))
			}(i + 1)
		}
	})
}

// Dispatch enqueues jobID.
func (q *LocalQueue) Dispatch(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- jobID:
		q.logger.Debug("Job queued", slog.String("job_id", jobID))
		return nil
	default:
		q.logger.Warn("Queue full, rejecting job", slog.String("job_id", jobID))
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued jobs to drain. When ctx
// ends first, running executions are canceled and recorded as failed by
// the executor.
func (q *LocalQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("Queue shutdown interrupted, canceling running jobs")
		q.cancel()
		<-done
	case <-done:
		q.cancel()
		q.logger.Info("Queue drained, shutdown complete")
	}
}
