package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "chatrelay/internal/errors"

	"github.com/sirupsen/logrus"
)

// Task is one unit of asynchronous work. Key, when set, is a dedupe key: the
// queue holds at most one queued-or-running task per key, which gives
// dispatch its single-writer-per-message guarantee.
type Task struct {
	Kind string
	Key  string
	Run  func(ctx context.Context) error
}

// Queue is the broker-agnostic enqueue interface the core depends on.
type Queue interface {
	Enqueue(task Task) error
}

// RetryLater is returned by a task's Run to request another run after Delay.
// The task's dedupe key stays reserved across the wait, so no competing task
// for the same key can start in between, while the worker itself is released
// to take other tasks.
type RetryLater struct {
	Delay time.Duration
}

func (e *RetryLater) Error() string {
	return fmt.Sprintf("retry after %s", e.Delay)
}

// InMemoryQueue runs tasks on a fixed-size worker pool with a bounded buffer.
type InMemoryQueue struct {
	logger  *logrus.Logger
	tasks   chan Task
	workers int

	mu       sync.Mutex
	inflight map[string]struct{}

	wg      sync.WaitGroup
	started bool
}

func NewInMemoryQueue(workers, size int, logger *logrus.Logger) *InMemoryQueue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	return &InMemoryQueue{
		logger:   logger,
		tasks:    make(chan Task, size),
		workers:  workers,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled; Wait
// blocks until they have drained.
func (q *InMemoryQueue) Start(ctx context.Context) {
	if q.started {
		return
	}
	q.started = true

	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-q.tasks:
					q.runTask(ctx, task)
				}
			}
		}()
	}
}

// Wait blocks until all workers have stopped.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Enqueue submits a task. A task whose key is already queued or running is
// silently dropped (the running task owns the key's work). A full buffer is
// an error; callers decide whether that is fatal.
func (q *InMemoryQueue) Enqueue(task Task) error {
	if task.Key != "" {
		q.mu.Lock()
		if _, exists := q.inflight[task.Key]; exists {
			q.mu.Unlock()
			return nil
		}
		q.inflight[task.Key] = struct{}{}
		q.mu.Unlock()
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		q.release(task.Key)
		return apperrors.New(apperrors.ErrCodeQueueFull, "dispatch queue is full").
			WithContext("kind", task.Kind)
	}
}

func (q *InMemoryQueue) runTask(ctx context.Context, task Task) {
	err := task.Run(ctx)
	if err == nil {
		q.release(task.Key)
		return
	}

	var retryLater *RetryLater
	if errors.As(err, &retryLater) {
		q.requeueAfter(ctx, task, retryLater.Delay)
		return
	}

	q.release(task.Key)
	q.logger.WithFields(logrus.Fields{
		"kind": task.Kind,
		"key":  task.Key,
	}).WithError(err).Error("Task failed")
}

// requeueAfter resubmits the task once delay has elapsed, keeping its key
// reserved the whole time. On shutdown the pending resubmit is dropped and
// the key released; durable work is re-enqueued by its owner.
func (q *InMemoryQueue) requeueAfter(ctx context.Context, task Task, delay time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			q.release(task.Key)
		case <-timer.C:
			select {
			case <-ctx.Done():
				q.release(task.Key)
			case q.tasks <- task:
			}
		}
	}()
}

func (q *InMemoryQueue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}
