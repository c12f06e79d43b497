package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/dalma/internal/taskqueue"
	"github.com/petrijr/dalma/pkg/api"
)

// ErrPoolClosed is returned by Execute after Shutdown.
var ErrPoolClosed = errors.New("worker pool closed")

// Config controls a Pool.
type Config struct {
	// Workers is the number of goroutines. Defaults to 4.
	Workers int

	// Logger receives worker diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Workers   int
	Active    int
	Queued    int
	Submitted int64
	Completed int64
	Panicked  int64
}

// Pool pulls tasks from a Queue and runs them on a fixed set of worker
// goroutines.
type Pool struct {
	queue   taskqueue.Queue
	workers int
	logger  *slog.Logger

	startOnce sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup

	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

var _ api.Executor = (*Pool)(nil)

// New creates a pool over queue. Call Start to launch the workers.
func New(queue taskqueue.Queue, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		queue:   queue,
		workers: cfg.Workers,
		logger:  cfg.Logger,
	}
}

// Start launches the worker goroutines. Tasks run with ctx; cancelling it
// stops the workers without draining the queue. Start is idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.loop(ctx, i)
		}
	})
}

// Execute implements api.Executor. When ctx carries a fiber, the task is
// labelled with its conversation and fiber IDs.
func (p *Pool) Execute(ctx context.Context, task func(ctx context.Context)) error {
	t := taskqueue.Task{Run: task}
	if f, ok := api.FiberFromContext(ctx); ok {
		t.Conversation, t.Fiber = f.Conversation().ID(), f.ID()
	}
	return p.Submit(ctx, t)
}

// Submit queues t, filling in its ID and timestamp when unset.
func (p *Pool) Submit(ctx context.Context, t taskqueue.Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if err := p.queue.Enqueue(ctx, t); err != nil {
		if errors.Is(err, taskqueue.ErrClosed) {
			return ErrPoolClosed
		}
		return err
	}
	p.submitted.Add(1)
	return nil
}

// ProcessOne pulls a single task from the queue and runs it on the
// calling goroutine. Returns (processed, error):
//   - processed == false: no task was obtained (ctx done or queue closed)
//   - processed == true: a task ran; err reports a recovered panic.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	task, err := p.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	return true, p.run(ctx, task)
}

// Shutdown implements api.Executor: it stops accepting tasks, then waits
// until the workers have drained the queue or ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closed.Store(true)
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Active:    int(p.active.Load()),
		Queued:    p.queue.Len(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		processed, err := p.ProcessOne(ctx)
		if !processed {
			if errors.Is(err, taskqueue.ErrClosed) || ctx.Err() != nil {
				return
			}
			continue
		}
		if err != nil {
			p.logger.Error("worker task failed", "worker", id, "error", err)
		}
	}
}

func (p *Pool) run(ctx context.Context, t *taskqueue.Task) (err error) {
	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			err = fmt.Errorf("task %s (conversation %d fiber %d) panicked: %v\n%s",
				t.ID, t.Conversation, t.Fiber, r, debug.Stack())
		}
		p.completed.Add(1)
	}()

	if t.Run != nil {
		t.Run(ctx)
	}
	return nil
}
