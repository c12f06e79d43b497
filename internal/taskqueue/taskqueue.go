package taskqueue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
// queue is closed and drained.
var ErrClosed = errors.New("task queue closed")

// Task is one unit of fiber work: run a single segment of a fiber.
type Task struct {
	ID string

	// Conversation and Fiber identify the fiber the task runs, for
	// logging. The pool fills them in from the fiber carried by the
	// submitting context; they stay zero for tasks without one.
	Conversation int
	Fiber        int

	Run func(ctx context.Context)

	EnqueuedAt time.Time
}

// Queue is a FIFO of tasks shared by the workers of a pool.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for
	// cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is
	// available, the queue is closed and drained, or the context is
	// cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int

	// Close stops accepting tasks. Tasks already queued are still handed
	// out.
	Close()
}
