package dalma

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/dalma/internal/engine"
	"github.com/petrijr/dalma/internal/persistence"
	"github.com/petrijr/dalma/internal/taskqueue"
	"github.com/petrijr/dalma/pkg/api"
	"github.com/petrijr/dalma/pkg/endpoint/inbox"
	"github.com/petrijr/dalma/pkg/endpoint/timer"
	"github.com/petrijr/dalma/pkg/worker"
)

const waitPoll = 50 * time.Millisecond

// LocalRunner bundles an in-memory store, a worker pool, an inbox and a
// timer endpoint into a single-process engine for development and tests.
//
// Typical usage:
//
//	runner, err := dalma.NewLocalRunner(ctx, greet.Definition())
//	conv, err := runner.Start(ctx, greet.Start(nil))
//	_, _ = runner.Deliver("name", "world")
//	err = runner.Wait(ctx, conv)
//	runner.Stop(ctx)
//
// Restart simulates a process restart over the same store.
type LocalRunner struct {
	store    persistence.Store
	programs []ProgramDefinition
	workers  int
	logger   *slog.Logger
	metrics  *api.BasicMetrics

	mu     sync.RWMutex
	engine Engine
	inbox  *inbox.Inbox
	timer  *timer.EndPoint
	pool   *worker.Pool
}

// NewLocalRunner constructs a LocalRunner with four workers and the
// given programs registered.
func NewLocalRunner(ctx context.Context, programs ...ProgramDefinition) (*LocalRunner, error) {
	r := &LocalRunner{
		store:    persistence.NewInMemoryStore(),
		programs: programs,
		workers:  4,
		logger:   slog.Default(),
		metrics:  &api.BasicMetrics{},
	}
	if err := r.boot(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LocalRunner) boot(ctx context.Context) error {
	ib := inbox.New("")
	tm := timer.New()
	pool := worker.New(taskqueue.NewInMemoryQueue(), worker.Config{Workers: r.workers, Logger: r.logger})
	pool.Start(context.Background())

	eng, err := engine.New(ctx, engine.Config{
		Store:     r.store,
		Executor:  pool,
		Observer:  r.metrics,
		Logger:    r.logger,
		EndPoints: []api.EndPoint{ib, tm},
		Programs:  r.programs,
	})
	if err != nil {
		_ = pool.Shutdown(ctx)
		return err
	}

	r.mu.Lock()
	r.engine, r.inbox, r.timer, r.pool = eng, ib, tm, pool
	r.mu.Unlock()
	return nil
}

// Engine returns the current engine. It changes on Restart.
func (r *LocalRunner) Engine() Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine
}

// Inbox returns the current inbox endpoint.
func (r *LocalRunner) Inbox() *inbox.Inbox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inbox
}

// Timer returns the current timer endpoint.
func (r *LocalRunner) Timer() *timer.EndPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timer
}

// Metrics returns counters accumulated across restarts.
func (r *LocalRunner) Metrics() BasicMetricsSnapshot {
	return r.metrics.Snapshot()
}

// Start creates a conversation running routine.
func (r *LocalRunner) Start(ctx context.Context, routine Routine) (Conversation, error) {
	return r.Engine().Start(ctx, routine)
}

// Deliver hands v to the receiver waiting on key, or buffers it.
func (r *LocalRunner) Deliver(key string, v any) (bool, error) {
	return r.Inbox().Deliver(key, v)
}

// Wait blocks until the conversation with c's ID has ended, then returns
// the errors of killed conversations. It follows the conversation across
// restarts.
func (r *LocalRunner) Wait(ctx context.Context, c Conversation) error {
	for {
		eng := r.Engine()
		live, ok := eng.Conversation(c.ID())
		if !ok {
			return eng.CheckError()
		}
		// A handle from a stopped engine never ends, so look again
		// periodically.
		jctx, cancel := context.WithTimeout(ctx, waitPoll)
		err := live.Join(jctx)
		cancel()
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Restart stops the engine and loads a new one over the same store, with
// fresh endpoints. Conversation handles obtained before the restart are
// stale; look them up again by ID.
func (r *LocalRunner) Restart(ctx context.Context) error {
	if err := r.Engine().Stop(ctx); err != nil {
		return err
	}
	return r.boot(ctx)
}

// Stop stops the engine and waits for running fibers.
func (r *LocalRunner) Stop(ctx context.Context) error {
	return r.Engine().Stop(ctx)
}
