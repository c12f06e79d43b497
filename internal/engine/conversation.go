package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/dalma/internal/persistence"
	"github.com/petrijr/dalma/pkg/api"
)

var errJoinSelf = errors.New("a conversation cannot join itself")

// activator is what join conditions expose to the conversation they wait
// on.
type activator interface {
	Activate(v any) error
}

// ioResult reports a store round-trip made under the conversation lock,
// so the observer can be told after the lock is released.
type ioResult struct {
	done bool
	d    time.Duration
	err  error
}

// conversation is a durable workflow instance: a set of fibers that are
// persisted together whenever none of them runs.
type conversation struct {
	eng *engineImpl
	id  int

	removeMu sync.Mutex
	done     chan struct{}

	mu   sync.Mutex
	idle *sync.Cond // signalled when running drops to zero

	nextFiber  int
	fibers     map[int]*fiber
	generators []api.Generator
	waiters    []activator

	// running counts fibers in RUNNING state.
	running int
	// hydrated is true while the fibers' routines are in memory.
	hydrated bool
	// killRequested stops new segments; the conversation is removed once
	// running drops to zero.
	killRequested bool
	ended         bool
	failure       *api.ConversationError
}

var _ api.Conversation = (*conversation)(nil)

func newConversation(e *engineImpl, id int) *conversation {
	c := &conversation{
		eng:       e,
		id:        id,
		done:      make(chan struct{}),
		nextFiber: 1,
		fibers:    make(map[int]*fiber),
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

func (c *conversation) ID() int { return c.id }

func (c *conversation) State() api.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.ended:
		return api.ConversationEnded
	case c.running > 0:
		return api.ConversationRunning
	case len(c.fibers) == 0:
		return api.ConversationEnded
	}
	for _, f := range c.fibers {
		if f.state == api.FiberRunnable {
			return api.ConversationRunnable
		}
	}
	return api.ConversationSuspended
}

func (c *conversation) Fibers() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int, 0, len(c.fibers))
	for id := range c.fibers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// fiber returns the live fiber with the given ID.
func (c *conversation) fiber(id int) (*fiber, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fibers[id]
	return f, ok
}

// Join blocks the calling goroutine. Fibers must not call it: they
// would hold a worker the target may need, so they suspend on
// JoinCondition instead.
func (c *conversation) Join(ctx context.Context) error {
	if f, ok := api.FiberFromContext(ctx); ok {
		if f.Conversation() == api.Conversation(c) {
			return errJoinSelf
		}
		return api.ErrJoinFromFiber
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conversation) JoinCondition() api.Condition {
	return &conversationJoin{Target: api.RefToConversation(c)}
}

// Remove kills the conversation. From one of its own fibers the removal
// is deferred to the end of the current segment, since waiting for the
// running count to drop would deadlock.
func (c *conversation) Remove(ctx context.Context) error {
	if f, ok := api.FiberFromContext(ctx); ok && f.Conversation() == api.Conversation(c) {
		c.mu.Lock()
		if !c.ended {
			c.killRequested = true
		}
		c.mu.Unlock()
		return nil
	}
	c.eng.remove(ctx, c)
	return nil
}

func (c *conversation) Generator(name string) (api.Generator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, g := range c.generators {
		if g.Name() == name {
			return g, true
		}
	}
	return nil, false
}

func (c *conversation) AddGenerator(g api.Generator) error {
	if g == nil || g.Name() == "" {
		return errors.New("generator must have a name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended || c.killRequested {
		return api.ErrConversationEnded
	}
	for _, existing := range c.generators {
		if existing.Name() == g.Name() {
			return fmt.Errorf("generator %q already attached", g.Name())
		}
	}
	c.generators = append(c.generators, g)
	return nil
}

// addWaiter registers a join on the conversation's end. It returns false
// when the conversation has already ended.
func (c *conversation) addWaiter(w activator) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	c.waiters = append(c.waiters, w)
	return true
}

func (c *conversation) removeWaiter(w activator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters = without(c.waiters, w)
}

func (c *conversation) addFiberWaiter(id int, w activator) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fibers[id]
	if !ok || c.ended || f.state == api.FiberEnded {
		return false
	}
	f.waiters = append(f.waiters, w)
	return true
}

func (c *conversation) removeFiberWaiter(id int, w activator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.fibers[id]; ok {
		f.waiters = without(f.waiters, w)
	}
}

func without(ws []activator, w activator) []activator {
	for i, x := range ws {
		if x == w {
			return append(ws[:i], ws[i+1:]...)
		}
	}
	return ws
}

func (c *conversation) newFiberLocked(r api.Routine) *fiber {
	f := &fiber{
		conv:    c,
		id:      c.nextFiber,
		state:   api.FiberRunnable,
		routine: r,
	}
	c.nextFiber++
	c.fibers[f.id] = f
	return f
}

func (c *conversation) sortedFibersLocked() []*fiber {
	out := make([]*fiber, 0, len(c.fibers))
	for _, f := range c.fibers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// enter moves f from RUNNABLE to RUNNING and returns its routine. The
// first fiber to enter an idle conversation reads the continuation back
// first. A nil routine means f must not run.
func (c *conversation) enter(ctx context.Context, f *fiber) (api.Routine, ioResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended || c.killRequested || f.state != api.FiberRunnable {
		return nil, ioResult{}
	}
	var res ioResult
	if c.running == 0 && !c.hydrated {
		res = c.restoreLocked(ctx)
		if res.err != nil {
			return nil, res
		}
	}
	if f.routine == nil {
		res.err = fmt.Errorf("fiber %d has no routine", f.id)
		return nil, res
	}
	c.running++
	f.state = api.FiberRunning
	f.cond = nil
	return f.routine, res
}

func (c *conversation) restoreLocked(ctx context.Context) ioResult {
	start := time.Now()
	err := c.restore(ctx)
	if err == nil {
		c.hydrated = true
	}
	return ioResult{done: true, d: time.Since(start), err: err}
}

func (c *conversation) restore(ctx context.Context) error {
	store := c.eng.store
	data, err := store.LoadContinuation(ctx, c.id)
	if err != nil {
		return err
	}
	var cont persistence.Continuation
	if err := persistence.Decode(persistence.ModeContinuation, data, &cont); err != nil {
		return err
	}
	if err := persistence.Bind(persistence.ModeContinuation, c.eng, cont); err != nil {
		return err
	}
	for id, f := range c.fibers {
		r, ok := cont[id]
		if !ok || r == nil {
			return fmt.Errorf("continuation has no routine for fiber %d", id)
		}
		f.routine = r
	}
	return store.DeleteContinuation(ctx, c.id)
}

// suspend records that f now waits on cond. The caller parks cond right
// after, outside the lock, since parking may wake f re-entrantly.
func (c *conversation) suspend(f *fiber, cond api.Condition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.state = api.FiberWaiting
	f.cond = cond
}

// endFiber retires f and wakes whoever joined it.
func (c *conversation) endFiber(f *fiber) {
	c.mu.Lock()
	f.state = api.FiberEnded
	f.routine = nil
	f.cond = nil
	waiters := f.waiters
	f.waiters = nil
	delete(c.fibers, f.id)
	c.mu.Unlock()

	for _, w := range waiters {
		_ = w.Activate(nil)
	}
}

// fail records the first error that kills the conversation.
func (c *conversation) fail(fiberID int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(fiberID, err)
}

func (c *conversation) failLocked(fiberID int, err error) {
	if c.failure == nil && !c.ended {
		c.failure = &api.ConversationError{ConversationID: c.id, FiberID: fiberID, Err: err}
	}
	c.killRequested = true
}

// leave moves the running count down after a segment. The fiber that
// brings it to zero either persists the conversation or, when no fiber
// is left or a kill is pending, asks the caller to remove it. Fibers
// returned in requeue became runnable during the save and must be
// scheduled by the caller.
func (c *conversation) leave(ctx context.Context) (remove bool, persisted ioResult, requeue []*fiber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running--
	if c.running > 0 {
		return false, ioResult{}, nil
	}
	c.idle.Broadcast()

	if c.ended {
		return false, ioResult{}, nil
	}
	if c.killRequested || len(c.fibers) == 0 {
		c.killRequested = true
		return true, ioResult{}, nil
	}

	requeue, persisted = c.persistLocked(ctx)
	if persisted.err != nil {
		c.failLocked(0, fmt.Errorf("persist: %w", persisted.err))
		return true, persisted, nil
	}
	return false, persisted, requeue
}

// persistIfIdle rewrites the records of an idle conversation. It is used
// when a woken fiber could not be queued.
func (c *conversation) persistIfIdle(ctx context.Context) ioResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended || c.running > 0 {
		return ioResult{}
	}
	_, res := c.persistLocked(ctx)
	return res
}

// persistLocked writes the continuation (when the routines are in memory)
// and the state record, then drops the routines.
func (c *conversation) persistLocked(ctx context.Context) ([]*fiber, ioResult) {
	start := time.Now()
	requeue, err := c.save(ctx)
	return requeue, ioResult{done: true, d: time.Since(start), err: err}
}

func (c *conversation) save(ctx context.Context) ([]*fiber, error) {
	store := c.eng.store
	fibers := c.sortedFibersLocked()

	if c.hydrated {
		cont := make(persistence.Continuation, len(fibers))
		for _, f := range fibers {
			cont[f.id] = f.routine
		}
		data, err := persistence.Encode(persistence.ModeContinuation, cont)
		if err != nil {
			return nil, err
		}
		if err := store.SaveContinuation(ctx, c.id, data); err != nil {
			return nil, err
		}
	}

	st := &persistence.ConversationState{
		ID:         c.id,
		NextFiber:  c.nextFiber,
		Fibers:     make([]persistence.FiberRecord, 0, len(fibers)),
		Generators: c.generators,
	}
	var requeue []*fiber
	for _, f := range fibers {
		// The condition activated but its Wake is still waiting for the
		// lock. Hand the value to the fiber here rather than persisting
		// an active condition; the late Wake finds the fiber runnable
		// and does nothing.
		if f.state == api.FiberWaiting && f.cond != nil && f.cond.Active() {
			f.value = f.cond.Value()
			f.cond = nil
			f.state = api.FiberRunnable
			requeue = append(requeue, f)
		}
		rec := persistence.FiberRecord{ID: f.id, State: f.state}
		switch f.state {
		case api.FiberWaiting:
			rec.Condition = f.cond
		case api.FiberRunnable:
			rec.Value = f.value
		}
		st.Fibers = append(st.Fibers, rec)
	}

	data, err := persistence.Encode(persistence.ModeConversation, st)
	if err != nil {
		return nil, err
	}
	if err := store.SaveState(ctx, c.id, data); err != nil {
		return nil, err
	}

	c.hydrated = false
	for _, f := range fibers {
		f.routine = nil
	}
	return requeue, nil
}
