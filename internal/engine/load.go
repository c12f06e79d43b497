package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/dalma/internal/persistence"
	"github.com/petrijr/dalma/pkg/api"
)

type loadedConversation struct {
	c  *conversation
	st *persistence.ConversationState
}

// load reads the engine record and every stored conversation. It runs in
// phases so that references between conversations resolve regardless of
// load order: first every conversation is decoded and registered, then
// monikers are bound, then conditions and generators are re-armed, and
// finally RUNNABLE fibers are queued. Continuations stay in the store
// until a fiber of the conversation runs.
func (e *engineImpl) load(ctx context.Context) error {
	data, err := e.store.LoadEngine(ctx)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
	case err != nil:
		return err
	default:
		var st persistence.EngineState
		if err := persistence.Decode(persistence.ModeEngine, data, &st); err != nil {
			return fmt.Errorf("decode engine record: %w", err)
		}
		if st.NextID > e.nextID {
			e.nextID = st.NextID
		}
	}

	ids, err := e.store.ListConversations(ctx)
	if err != nil {
		return err
	}

	loaded := make([]loadedConversation, 0, len(ids))
	for _, id := range ids {
		if id >= e.nextID {
			e.nextID = id + 1
		}
		c, st, err := e.decodeConversation(ctx, id)
		if err != nil {
			e.logger.Error("conversation unreadable", "conversation", id, "error", err)
			e.recordError(&api.ConversationError{ConversationID: id, Err: err})
			if derr := e.store.DeleteConversation(ctx, id); derr != nil {
				e.logger.Error("delete conversation", "conversation", id, "error", derr)
			}
			continue
		}
		e.register(c)
		loaded = append(loaded, loadedConversation{c: c, st: st})
	}

	bound := loaded[:0]
	for _, l := range loaded {
		if err := persistence.Bind(persistence.ModeConversation, e, l.st); err != nil {
			e.kill(ctx, l.c, 0, fmt.Errorf("bind: %w", err))
			continue
		}
		bound = append(bound, l)
	}

	var runnable []*fiber
	for _, l := range bound {
		c := l.c
		c.mu.Lock()
		fibers := c.sortedFibersLocked()
		gens := c.generators
		c.mu.Unlock()

		for _, f := range fibers {
			switch f.state {
			case api.FiberWaiting:
				api.Load(f.cond, f)
			case api.FiberRunnable:
				runnable = append(runnable, f)
			}
		}
		for _, g := range gens {
			g.OnLoad(c)
		}
	}

	for _, f := range runnable {
		if f.State() == api.FiberRunnable {
			e.schedule(f)
		}
	}

	e.logger.Info("engine loaded", "conversations", len(bound), "nextId", e.nextID)
	return nil
}

func (e *engineImpl) decodeConversation(ctx context.Context, id int) (*conversation, *persistence.ConversationState, error) {
	data, err := e.store.LoadState(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	st := &persistence.ConversationState{}
	if err := persistence.Decode(persistence.ModeConversation, data, st); err != nil {
		return nil, nil, err
	}
	if st.ID != id {
		return nil, nil, fmt.Errorf("state record belongs to conversation %d", st.ID)
	}

	c := newConversation(e, id)
	c.nextFiber = st.NextFiber
	c.generators = st.Generators
	for _, rec := range st.Fibers {
		f := &fiber{conv: c, id: rec.ID, state: rec.State}
		switch rec.State {
		case api.FiberWaiting:
			if rec.Condition == nil {
				return nil, nil, fmt.Errorf("fiber %d is waiting without a condition", rec.ID)
			}
			f.cond = rec.Condition
		case api.FiberRunnable:
			f.value = rec.Value
		default:
			return nil, nil, fmt.Errorf("fiber %d stored in state %s", rec.ID, rec.State)
		}
		if rec.ID >= c.nextFiber {
			c.nextFiber = rec.ID + 1
		}
		c.fibers[f.id] = f
	}
	if len(c.fibers) == 0 {
		return nil, nil, errors.New("conversation has no fibers")
	}
	return c, st, nil
}
