package broker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/personachat/broker/internal/models"
)

// DefaultQueueSize bounds how many requests may wait for the worker before
// new ones are shed.
const DefaultQueueSize = 5

// Task is one unit of admitted work: the conversation to hand to the
// engine and the handle the caller is awaiting. Ownership passes from the
// gateway to the queue on enqueue and to the worker on dequeue.
type Task struct {
	ID         string
	Messages   []models.Message
	Handle     *Handle
	EnqueuedAt time.Time
}

func NewTask(messages []models.Message) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Messages:   messages,
		Handle:     NewHandle(),
		EnqueuedAt: time.Now(),
	}
}

// Queue is the bounded FIFO between the gateway and the worker, and the
// system's only backpressure mechanism: a full queue sheds the request
// instead of blocking the caller.
type Queue struct {
	ch chan *Task
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{ch: make(chan *Task, capacity)}
}

// TryEnqueue admits task unless the queue is at capacity. Never blocks.
func (q *Queue) TryEnqueue(task *Task) bool {
	select {
	case q.ch <- task:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a task is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case task := <-q.ch:
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len is the number of queued tasks. Racy by nature; used for health
// reporting and metrics only.
func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }
