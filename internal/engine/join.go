package engine

import (
	"encoding/gob"

	"github.com/petrijr/dalma/pkg/api"
)

func init() {
	gob.Register(&conversationJoin{})
	gob.Register(&fiberJoin{})
}

// conversationJoin activates, with a nil value, when Target ends. A
// target that no longer exists counts as ended.
type conversationJoin struct {
	api.Base
	Target api.ConversationRef
}

func (j *conversationJoin) OnParked() { j.arm() }
func (j *conversationJoin) OnLoad()   { j.arm() }

func (j *conversationJoin) OnInterrupt() {
	if c, ok := j.Target.Get().(*conversation); ok {
		c.removeWaiter(j)
	}
}

func (j *conversationJoin) arm() {
	c, ok := j.Target.Get().(*conversation)
	if !ok || !c.addWaiter(j) {
		_ = j.Activate(nil)
	}
}

// fiberJoin activates, with a nil value, when a fiber ends.
type fiberJoin struct {
	api.Base
	Conversation api.ConversationRef
	Fiber        int
}

func (j *fiberJoin) OnParked() { j.arm() }
func (j *fiberJoin) OnLoad()   { j.arm() }

func (j *fiberJoin) OnInterrupt() {
	if c, ok := j.Conversation.Get().(*conversation); ok {
		c.removeFiberWaiter(j.Fiber, j)
	}
}

func (j *fiberJoin) arm() {
	c, ok := j.Conversation.Get().(*conversation)
	if !ok || !c.addFiberWaiter(j.Fiber, j) {
		_ = j.Activate(nil)
	}
}
