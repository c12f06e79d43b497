package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/dalma/internal/persistence"
	"github.com/petrijr/dalma/internal/taskqueue"
	"github.com/petrijr/dalma/pkg/api"
	"github.com/petrijr/dalma/pkg/worker"
)

// Config describes how to construct an engine.
type Config struct {
	// Store is where conversations are persisted. Required.
	Store persistence.Store

	// Executor runs fiber segments. When nil the engine starts its own
	// worker pool with Workers goroutines.
	Executor api.Executor
	Workers  int

	Observer api.Observer
	Logger   *slog.Logger

	// EndPoints and Programs are registered before stored conversations
	// are loaded, so their references resolve during load.
	EndPoints []api.EndPoint
	Programs  []api.ProgramDefinition
}

// engineImpl owns the live conversations of one store.
type engineImpl struct {
	store    persistence.Store
	exec     api.Executor
	observer api.Observer
	logger   *slog.Logger
	programs *programRegistry

	mu        sync.RWMutex
	convs     map[int]*conversation
	endpoints map[string]api.EndPoint
	stopped   bool

	idMu   sync.Mutex // guards nextID and the engine record
	nextID int

	errMu sync.Mutex
	errs  []error
}

var (
	_ api.Engine   = (*engineImpl)(nil)
	_ api.Resolver = (*engineImpl)(nil)
)

// New creates an engine over cfg.Store and loads every conversation
// found in it. Conversations that cannot be read back are killed and
// their errors queued for CheckError.
func New(ctx context.Context, cfg Config) (api.Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var obs api.Observer = api.NoopObserver{}
	if cfg.Observer != nil {
		obs = recoveringObserver{next: cfg.Observer, logger: logger}
	}
	exec := cfg.Executor
	if exec == nil {
		pool := worker.New(taskqueue.NewInMemoryQueue(), worker.Config{
			Workers: cfg.Workers,
			Logger:  logger,
		})
		pool.Start(context.Background())
		exec = pool
	}

	e := &engineImpl{
		store:     cfg.Store,
		exec:      exec,
		observer:  obs,
		logger:    logger.With("component", "engine"),
		programs:  newProgramRegistry(),
		convs:     make(map[int]*conversation),
		endpoints: make(map[string]api.EndPoint),
		nextID:    1,
	}
	for _, ep := range cfg.EndPoints {
		if err := e.AddEndPoint(ep); err != nil {
			return nil, err
		}
	}
	for _, def := range cfg.Programs {
		if err := e.RegisterProgram(def); err != nil {
			return nil, err
		}
	}
	if err := e.load(ctx); err != nil {
		return nil, fmt.Errorf("engine: load: %w", err)
	}
	return e, nil
}

func (e *engineImpl) RegisterProgram(def api.ProgramDefinition) error {
	return e.programs.Register(def)
}

func (e *engineImpl) Program(name string) (api.ProgramDefinition, error) {
	return e.programs.Get(name)
}

func (e *engineImpl) Start(ctx context.Context, r api.Routine) (api.Conversation, error) {
	if r == nil {
		return nil, errors.New("engine: routine is required")
	}
	e.mu.RLock()
	stopped := e.stopped
	e.mu.RUnlock()
	if stopped {
		return nil, api.ErrEngineStopped
	}

	id, err := e.allocateID(ctx)
	if err != nil {
		return nil, err
	}

	c := newConversation(e, id)
	c.hydrated = true
	c.mu.Lock()
	f := c.newFiberLocked(r)
	c.mu.Unlock()

	e.register(c)
	e.observer.OnConversationStart(ctx, c)
	e.schedule(f)
	return c, nil
}

// allocateID hands out the next conversation ID and persists the
// generator before returning, so an ID is never reused across a crash.
func (e *engineImpl) allocateID(ctx context.Context) (int, error) {
	e.idMu.Lock()
	defer e.idMu.Unlock()

	id := e.nextID
	data, err := persistence.Encode(persistence.ModeEngine, &persistence.EngineState{NextID: id + 1})
	if err != nil {
		return 0, err
	}
	if err := e.store.SaveEngine(ctx, data); err != nil {
		return 0, fmt.Errorf("engine: save id generator: %w", err)
	}
	e.nextID = id + 1
	return id, nil
}

// Engine implements api.Resolver.
func (e *engineImpl) Engine() api.Engine { return e }

func (e *engineImpl) Conversation(id int) (api.Conversation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.convs[id]
	if !ok {
		return nil, false
	}
	return c, true
}

func (e *engineImpl) Conversations() []api.Conversation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]int, 0, len(e.convs))
	for id := range e.convs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]api.Conversation, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.convs[id])
	}
	return out
}

func (e *engineImpl) AddEndPoint(ep api.EndPoint) error {
	if ep == nil || ep.Name() == "" {
		return errors.New("engine: endpoint must have a name")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.endpoints[ep.Name()]; exists {
		return fmt.Errorf("%w: %q", api.ErrDuplicateEndPoint, ep.Name())
	}
	e.endpoints[ep.Name()] = ep
	return nil
}

func (e *engineImpl) EndPoint(name string) (api.EndPoint, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ep, ok := e.endpoints[name]
	return ep, ok
}

func (e *engineImpl) CheckError() error {
	e.errMu.Lock()
	errs := e.errs
	e.errs = nil
	e.errMu.Unlock()

	return errors.Join(errs...)
}

func (e *engineImpl) Errors() []error {
	e.errMu.Lock()
	defer e.errMu.Unlock()

	return append([]error(nil), e.errs...)
}

// Stop stops every endpoint so no new activation arrives, then waits for
// the executor to drain. Running fibers are never interrupted.
func (e *engineImpl) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	eps := make([]api.EndPoint, 0, len(e.endpoints))
	for _, ep := range e.endpoints {
		eps = append(eps, ep)
	}
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range eps {
		ep := ep
		g.Go(func() error {
			if err := ep.Stop(gctx); err != nil {
				return fmt.Errorf("endpoint %q: %w", ep.Name(), err)
			}
			return nil
		})
	}
	epErr := g.Wait()

	execErr := e.exec.Shutdown(ctx)
	e.logger.Info("engine stopped", "conversations", len(e.Conversations()))
	return errors.Join(epErr, execErr)
}

func (e *engineImpl) register(c *conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.convs[c.id] = c
}

func (e *engineImpl) unregister(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.convs, id)
}

func (e *engineImpl) recordError(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	e.errs = append(e.errs, err)
}

// schedule hands f to the executor. A fiber that cannot be queued stays
// RUNNABLE; if its conversation is at rest the state record is rewritten
// so the fiber runs after the next load.
func (e *engineImpl) schedule(f *fiber) {
	c := f.conv
	err := e.exec.Execute(api.WithFiber(context.Background(), f), func(ctx context.Context) {
		e.runFiber(ctx, f)
	})
	if err == nil {
		return
	}
	e.logger.Debug("fiber not scheduled", "conversation", c.id, "fiber", f.id, "error", err)

	res := c.persistIfIdle(context.Background())
	if res.done {
		e.observer.OnPersist(context.Background(), c, res.err, res.d)
	}
	if res.err != nil {
		e.kill(context.Background(), c, 0, fmt.Errorf("persist: %w", res.err))
	}
}

// runFiber executes one segment of f. It is the body of every executor
// task.
func (e *engineImpl) runFiber(ctx context.Context, f *fiber) {
	c := f.conv

	f.exec.Lock()
	defer f.exec.Unlock()

	r, restored := c.enter(ctx, f)
	if restored.done {
		e.observer.OnRestore(ctx, c, restored.err, restored.d)
	}
	if restored.err != nil {
		e.kill(ctx, c, 0, fmt.Errorf("restore: %w", restored.err))
		return
	}
	if r == nil {
		return
	}

	// Once entered, the segment always leaves, even when parking panics.
	defer e.exit(ctx, c)
	defer func() {
		if v := recover(); v != nil {
			c.fail(f.id, &api.PanicError{Value: v})
		}
	}()

	fctx := api.WithFiber(ctx, f)
	e.observer.OnFiberStart(fctx, f)
	start := time.Now()
	cond, runErr := invoke(fctx, r, f)

	next := api.FiberEnded
	if runErr == nil && cond != nil {
		next = api.FiberWaiting
	}
	e.observer.OnFiberCompleted(fctx, f, next, runErr, time.Since(start))

	switch {
	case runErr != nil:
		c.fail(f.id, runErr)
	case cond != nil:
		c.suspend(f, cond)
		if err := api.Park(cond, f); err != nil {
			c.fail(f.id, err)
		}
	default:
		c.endFiber(f)
	}
}

// exit ends a segment: the last fiber out persists the conversation, or
// removes it when nothing is left to run.
func (e *engineImpl) exit(ctx context.Context, c *conversation) {
	remove, persisted, requeue := c.leave(ctx)
	if persisted.done {
		e.observer.OnPersist(ctx, c, persisted.err, persisted.d)
	}
	if remove {
		e.remove(ctx, c)
		return
	}
	for _, f := range requeue {
		e.schedule(f)
	}
}

func invoke(ctx context.Context, r api.Routine, f api.Fiber) (cond api.Condition, err error) {
	defer func() {
		if v := recover(); v != nil {
			cond = nil
			err = &api.PanicError{Value: v}
		}
	}()
	return r.Run(ctx, f)
}

// kill records err as the reason c failed and removes it.
func (e *engineImpl) kill(ctx context.Context, c *conversation, fiberID int, err error) {
	c.fail(fiberID, err)
	e.remove(ctx, c)
}

// remove tears c down. Concurrent calls collapse into one; the losers
// return once the conversation has ended. It waits for running fibers to
// finish their segment first.
func (e *engineImpl) remove(ctx context.Context, c *conversation) {
	c.removeMu.Lock()
	defer c.removeMu.Unlock()

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.killRequested = true
	for c.running > 0 {
		c.idle.Wait()
	}
	c.ended = true

	var (
		conds   []api.Condition
		waiters []activator
	)
	for _, f := range c.sortedFibersLocked() {
		if f.state == api.FiberWaiting && f.cond != nil {
			conds = append(conds, f.cond)
		}
		waiters = append(waiters, f.waiters...)
		f.state = api.FiberEnded
		f.cond = nil
		f.routine = nil
		f.waiters = nil
	}
	c.fibers = make(map[int]*fiber)
	gens := c.generators
	c.generators = nil
	waiters = append(waiters, c.waiters...)
	c.waiters = nil
	failure := c.failure
	c.mu.Unlock()

	for _, cond := range conds {
		api.Interrupt(cond)
	}
	for _, g := range gens {
		g.Dispose()
	}
	if err := e.store.DeleteConversation(ctx, c.id); err != nil {
		e.logger.Error("delete conversation", "conversation", c.id, "error", err)
	}
	e.unregister(c.id)

	if failure != nil {
		e.recordError(failure)
		e.observer.OnConversationFailed(ctx, c, failure)
	}
	e.observer.OnConversationEnd(ctx, c)

	close(c.done)
	for _, w := range waiters {
		_ = w.Activate(nil)
	}
}
