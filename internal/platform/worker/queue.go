// Package worker runs best-effort background tasks off the request path.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Task is a unit of background work. Name is used in logs only.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Queued    int
	Processed uint64
	Failed    uint64
	Overflow  uint64
}

// Queue is a bounded task queue drained by a fixed set of goroutines. Submit
// never blocks: when the buffer is full or the queue is closed the task is
// refused and the caller decides what to do with it.
type Queue struct {
	tasks   chan Task
	logger  zerolog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	processed atomic.Uint64
	failed    atomic.Uint64
	overflow  atomic.Uint64
}

// NewQueue creates a queue holding up to size pending tasks. Each task runs
// under its own timeout, detached from the submitting request.
func NewQueue(size int, timeout time.Duration, logger zerolog.Logger) *Queue {
	if size < 0 {
		size = 0
	}
	return &Queue{
		tasks:   make(chan Task, size),
		logger:  logger.With().Str("component", "worker").Logger(),
		timeout: timeout,
	}
}

// Start launches n workers. They exit once Close has drained the buffer.
func (q *Queue) Start(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.run(ctx)
	}
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.execute(ctx, task)
	}
}

func (q *Queue) execute(parent context.Context, task Task) {
	ctx := context.WithoutCancel(parent)
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error().Str("task", task.Name).Interface("panic", r).Msg("background task panicked")
		}
	}()

	if err := task.Run(ctx); err != nil {
		q.failed.Add(1)
		q.logger.Error().Err(err).Str("task", task.Name).Msg("background task failed")
		return
	}
	q.processed.Add(1)
}

// Submit enqueues the task without blocking. It reports false when the task
// was refused.
func (q *Queue) Submit(task Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		q.overflow.Add(1)
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish or for ctx
// to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		Queued:    len(q.tasks),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Overflow:  q.overflow.Load(),
	}
}
