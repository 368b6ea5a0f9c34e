package broker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/personachat/broker/internal/metrics"
	"github.com/personachat/broker/internal/models"
	"github.com/personachat/broker/internal/tokens"
)

// Engine is the generation backend. Generate blocks for the duration of
// one completion and is not assumed safe for concurrent calls; the worker
// serializes access to it.
type Engine interface {
	Generate(ctx context.Context, messages []models.Message) (string, error)
}

// WorkerConfig tunes the consumer loop.
type WorkerConfig struct {
	// MaxContextTokens is the truncation budget re-applied before each
	// engine call. The gateway already truncated; doing it again here
	// keeps the invariant even if a producer misbehaves.
	MaxContextTokens int

	// Permits sizes the concurrency gate. Anything other than 1 defeats
	// the point of a single stateful engine; values below 1 are clamped.
	Permits int64
}

// Worker is the single long-lived consumer of the admission queue. It
// dequeues one task at a time, runs the engine under the concurrency gate,
// and writes the outcome to the task's handle. A task's failure never
// stops the loop.
type Worker struct {
	queue     *Queue
	engine    Engine
	gate      *semaphore.Weighted
	maxTokens int
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func NewWorker(queue *Queue, engine Engine, cfg WorkerConfig, collector *metrics.Collector, logger *zap.Logger) *Worker {
	permits := cfg.Permits
	if permits < 1 {
		permits = 1
	}
	return &Worker{
		queue:     queue,
		engine:    engine,
		gate:      semaphore.NewWeighted(permits),
		maxTokens: cfg.MaxContextTokens,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "worker")),
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("queue_capacity", w.queue.Cap()))
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Info("worker stopped", zap.Error(err))
			return
		}
		w.metrics.TaskDequeued(w.queue.Len())
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task *Task) {
	logger := w.logger.With(zap.String("request_id", task.ID))

	if task.Handle.Cancelled() {
		logger.Info("task cancelled before processing; skipping")
		w.metrics.TaskSkipped()
		return
	}

	if err := w.gate.Acquire(ctx, 1); err != nil {
		// Shutting down; unblock the waiter rather than leaving it to
		// its deadline.
		task.Handle.Fail(fmt.Errorf("worker shutting down: %w", err))
		return
	}
	defer w.gate.Release(1)

	messages := tokens.Truncate(task.Messages, w.maxTokens)

	start := time.Now()
	text, err := w.engine.Generate(ctx, messages)
	elapsed := time.Since(start)
	w.metrics.ObserveGeneration(elapsed, err == nil)

	if err != nil {
		logger.Error("generation failed",
			zap.Error(err),
			zap.Duration("elapsed", elapsed))
		if !task.Handle.Fail(fmt.Errorf("error during message generation: %w", err)) {
			logger.Info("task cancelled during processing; error not set")
		}
		return
	}

	if !task.Handle.Resolve(text) {
		logger.Info("task cancelled during processing; result not set",
			zap.Duration("elapsed", elapsed))
		return
	}
	logger.Info("generation completed",
		zap.Duration("elapsed", elapsed),
		zap.Duration("queued", start.Sub(task.EnqueuedAt)),
		zap.Int("response_chars", len(text)))
}
