package taskqueue

import (
	"context"
	"sync"
)

// InMemoryQueue is an unbounded Queue. A running fiber may enqueue the
// fibers it wakes from inside a worker, so Enqueue must never block on
// capacity. It is safe for concurrent use.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	// ready is closed and replaced whenever a task arrives or the queue
	// closes, waking every blocked Dequeue.
	ready chan struct{}
}

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{ready: make(chan struct{})}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.tasks = append(q.tasks, t)
	q.signalLocked()
	return nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			t := q.tasks[0]
			q.tasks[0] = Task{}
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return &t, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signalLocked()
}

func (q *InMemoryQueue) signalLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}
