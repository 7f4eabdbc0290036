// Package background runs best-effort side work (read receipts,
// notification fan-out) off the request path on a small worker pool.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rx3lixir/mapchat/internal/metrics"
)

var ErrQueueFull = errors.New("background queue full")

// Task is one unit of background work. Run gets a context bounded by the
// queue's task timeout.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config holds worker pool configuration
type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		Workers:     2,
		QueueSize:   256,
		TaskTimeout: 10 * time.Second,
	}
}

// Queue is a bounded task queue drained by a fixed set of workers. Tasks
// are never retried; a failure is logged and dropped.
type Queue struct {
	config  Config
	tasks   chan Task
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	stopped bool
	log     *slog.Logger
}

func NewQueue(cfg Config, log *slog.Logger) *Queue {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	return &Queue{
		config: cfg,
		tasks:  make(chan Task, cfg.QueueSize),
		log:    log,
	}
}

// Start launches the workers
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return fmt.Errorf("queue is already running")
	}
	if q.stopped {
		return fmt.Errorf("queue was stopped")
	}
	q.running = true

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			q.work(id)
		}(i + 1)
	}

	q.log.Info("background queue started", "workers", q.config.Workers, "queue_size", q.config.QueueSize)
	return nil
}

// Enqueue hands a task to the workers without blocking. A full or stopped
// queue rejects the task.
func (q *Queue) Enqueue(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return fmt.Errorf("enqueue %s: queue stopped", task.Name)
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		metrics.BackgroundTasksDropped.Inc()
		q.log.Warn("background task dropped", "task", task.Name)
		return fmt.Errorf("enqueue %s: %w", task.Name, ErrQueueFull)
	}
}

func (q *Queue) work(id int) {
	for task := range q.tasks {
		q.process(id, task)
	}
}

func (q *Queue) process(id int, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.config.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.log.Error("background task panicked", "worker", id, "task", task.Name, "panic", r)
		}
	}()

	start := time.Now()
	if err := task.Run(ctx); err != nil {
		q.log.Warn("background task failed",
			"worker", id,
			"task", task.Name,
			"error", err,
		)
		return
	}
	q.log.Debug("background task done", "worker", id, "task", task.Name, "duration", time.Since(start))
}

// Stop rejects new tasks, lets the workers drain what is queued and waits
// for them or for ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	wasRunning := q.running
	q.running = false
	close(q.tasks)
	q.mu.Unlock()

	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("background queue drained")
	case <-ctx.Done():
		q.log.Warn("timeout waiting for background workers")
		return ctx.Err()
	}
	return nil
}
