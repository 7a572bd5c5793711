package batches

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aviz85/gemini-video-playground/internal/logging"
)

var (
	// ErrQueueClosed is returned when work is enqueued after Shutdown.
	ErrQueueClosed = errors.New("batch queue closed")
	// ErrAlreadyQueued is returned when a batch is queued or running already.
	ErrAlreadyQueued = errors.New("batch already queued")
)

// BatchRunner executes a batch.
type BatchRunner interface {
	Run(ctx context.Context, batchID string) (RunReport, error)
}

// QueueConfig controls the concurrency characteristics of the queue.
type QueueConfig struct {
	QueueSize int
	Workers   int
}

// Queue runs batches in the background on a fixed worker pool. A batch is
// accepted at most once until its run finishes.
type Queue struct {
	runner BatchRunner
	logger *slog.Logger

	jobs   chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.Mutex
	active map[string]struct{}
}

// NewQueue starts the worker pool.
func NewQueue(runner BatchRunner, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))

	q := &Queue{
		runner: runner,
		logger: logger,
		jobs:   make(chan string, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker()
	}

	return q
}

// Enqueue schedules a run of the batch.
func (q *Queue) Enqueue(ctx context.Context, batchID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueClosed
	default:
	}

	q.mu.Lock()
	if _, ok := q.active[batchID]; ok {
		q.mu.Unlock()
		return ErrAlreadyQueued
	}
	q.active[batchID] = struct{}{}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.release(batchID)
		return ctx.Err()
	case <-q.ctx.Done():
		q.release(batchID)
		return ErrQueueClosed
	case q.jobs <- batchID:
		return nil
	}
}

// Shutdown stops accepting work, cancels running batches and waits for the
// workers to exit.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.once.Do(q.cancel)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case batchID := <-q.jobs:
			q.handle(batchID)
		}
	}
}

func (q *Queue) handle(batchID string) {
	defer q.release(batchID)

	report, err := q.runner.Run(q.ctx, batchID)
	if err != nil {
		q.logger.Error("batch run failed", "batch_id", batchID, "error", err)
		return
	}
	q.logger.Info("batch run complete", "batch_id", batchID, "status", report.Status, "progress", report.Progress)
}

func (q *Queue) release(batchID string) {
	q.mu.Lock()
	delete(q.active, batchID)
	q.mu.Unlock()
}
