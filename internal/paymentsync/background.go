package paymentsync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of post-commit bookkeeping: a ledger write, an audit
// record, an event publication. Failures are logged, never surfaced to the
// engine caller.
type Task struct {
	Name      string
	BookingID int64
	Run       func(ctx context.Context) error
}

// TaskQueue is a bounded queue with a fixed worker pool. The engine commits
// authoritative booking state synchronously and hands everything secondary
// to the queue, so a slow or failing ledger write never blocks a caller.
type TaskQueue struct {
	tasks      chan Task
	logger     *slog.Logger
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

type TaskQueueConfig struct {
	MaxWorkers int
	QueueSize  int
}

func NewTaskQueue(config TaskQueueConfig, logger *slog.Logger) *TaskQueue {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	q := &TaskQueue{
		tasks:      make(chan Task, queueSize),
		logger:     logger,
		maxWorkers: maxWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}

	q.start()

	return q
}

func (q *TaskQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.maxWorkers; i++ {
			q.wg.Add(1)
			go q.worker(i)
		}

		q.logger.Info("background task queue started",
			"max_workers", q.maxWorkers,
			"queue_size", cap(q.tasks))
	})
}

func (q *TaskQueue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case task := <-q.tasks:
			q.runTask(id, task)
		case <-q.ctx.Done():
			// drain what is already queued before exiting
			for {
				select {
				case task := <-q.tasks:
					q.runTask(id, task)
				default:
					q.logger.Debug("background worker shutting down", "worker_id", id)
					return
				}
			}
		}
	}
}

func (q *TaskQueue) runTask(workerID int, task Task) {
	q.logger.Debug("running background task",
		"worker_id", workerID,
		"task", task.Name,
		"booking_id", task.BookingID)

	// tasks run detached from request and shutdown contexts: queued
	// bookkeeping should complete even while the server is draining
	if err := task.Run(context.Background()); err != nil {
		q.logger.Error("background task failed, flagged for manual reconciliation",
			"task", task.Name,
			"booking_id", task.BookingID,
			"error", err)
	}
}

// Submit enqueues a task without blocking the caller. When the queue is
// full the task runs in its own goroutine so bookkeeping is never dropped.
func (q *TaskQueue) Submit(task Task) {
	select {
	case q.tasks <- task:
	default:
		q.logger.Warn("background queue full, running task out of band",
			"task", task.Name,
			"booking_id", task.BookingID,
			"queue_capacity", cap(q.tasks))
		go q.runTask(-1, task)
	}
}

// Shutdown stops the workers after draining queued tasks, or gives up when
// the context expires.
func (q *TaskQueue) Shutdown(ctx context.Context) {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("background task queue shutdown complete")
	case <-ctx.Done():
		q.logger.Warn("background task queue shutdown timed out")
	case <-time.After(30 * time.Second):
		q.logger.Warn("background task queue shutdown timed out")
	}
}
