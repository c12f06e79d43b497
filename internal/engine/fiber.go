package engine

import (
	"sync"

	"github.com/petrijr/dalma/pkg/api"
)

// fiber is one thread of execution inside a conversation. Everything but
// exec is guarded by conv.mu.
type fiber struct {
	conv *conversation
	id   int

	// exec is held for the whole of a segment, so a fiber never runs
	// twice at once even when two wake-ups race.
	exec sync.Mutex

	state   api.FiberState
	routine api.Routine
	cond    api.Condition
	value   any
	waiters []activator
}

var (
	_ api.Fiber = (*fiber)(nil)
	_ api.Owner = (*fiber)(nil)
)

func (f *fiber) ID() int { return f.id }

func (f *fiber) State() api.FiberState {
	f.conv.mu.Lock()
	defer f.conv.mu.Unlock()
	return f.state
}

func (f *fiber) Conversation() api.Conversation { return f.conv }

func (f *fiber) Engine() api.Engine { return f.conv.eng }

func (f *fiber) Value() any {
	f.conv.mu.Lock()
	defer f.conv.mu.Unlock()
	return f.value
}

// Spawn adds a RUNNABLE child fiber. The conversation's routines must be
// in memory, which holds whenever one of its fibers is running.
func (f *fiber) Spawn(r api.Routine) (api.Fiber, error) {
	c := f.conv
	c.mu.Lock()
	if c.ended || c.killRequested {
		c.mu.Unlock()
		return nil, api.ErrConversationEnded
	}
	if !c.hydrated {
		c.mu.Unlock()
		return nil, api.ErrNotRunning
	}
	child := c.newFiberLocked(r)
	c.mu.Unlock()

	c.eng.schedule(child)
	return child, nil
}

func (f *fiber) JoinCondition() api.Condition {
	return &fiberJoin{Conversation: api.RefToConversation(f.conv), Fiber: f.id}
}

// Wake implements api.Owner: the condition f parked on activated.
func (f *fiber) Wake(cond api.Condition) {
	c := f.conv
	c.mu.Lock()
	if c.ended || f.state != api.FiberWaiting || f.cond != cond {
		c.mu.Unlock()
		return
	}
	f.state = api.FiberRunnable
	f.value = cond.Value()
	f.cond = nil
	c.mu.Unlock()

	c.eng.schedule(f)
}
