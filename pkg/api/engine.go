package api

import "context"

// FiberState is the lifecycle state of a fiber.
type FiberState string

const (
	FiberRunnable FiberState = "RUNNABLE"
	FiberRunning  FiberState = "RUNNING"
	FiberWaiting  FiberState = "WAITING"
	FiberEnded    FiberState = "ENDED"
)

// ConversationState is derived from the fibers of a conversation:
// RUNNING if any fiber executes, ENDED if none is left, RUNNABLE if one is
// ready to run, SUSPENDED otherwise.
type ConversationState string

const (
	ConversationRunning   ConversationState = "RUNNING"
	ConversationRunnable  ConversationState = "RUNNABLE"
	ConversationSuspended ConversationState = "SUSPENDED"
	ConversationEnded     ConversationState = "ENDED"
)

// Routine is the body of a fiber, written as an explicit resumable state
// machine. The Routine value itself is the execution snapshot: its exported
// fields survive a restart, so concrete types must be gob-registered.
//
// Run executes one segment. Returning a non-nil Condition suspends the
// fiber until the condition activates, after which Run is called again and
// f.Value() holds the activation value. Returning (nil, nil) ends the
// fiber. Returning an error kills the whole conversation.
type Routine interface {
	Run(ctx context.Context, f Fiber) (Condition, error)
}

// Fiber is the handle a Routine uses to reach its runtime.
type Fiber interface {
	ID() int
	State() FiberState
	Conversation() Conversation
	Engine() Engine

	// Value returns the activation value of the condition the fiber was
	// last woken by.
	Value() any

	// Spawn adds a child fiber running r to the same conversation.
	Spawn(r Routine) (Fiber, error)

	// JoinCondition returns a condition that activates when this fiber
	// ends.
	JoinCondition() Condition
}

// Conversation is a durable workflow instance.
type Conversation interface {
	ID() int
	State() ConversationState

	// Fibers lists the IDs of the fibers that have not ended.
	Fibers() []int

	// Join blocks until the conversation ends or ctx is done. Called
	// from a fiber it returns ErrJoinFromFiber at once.
	Join(ctx context.Context) error

	// JoinCondition returns a condition that activates when the
	// conversation ends. Fibers of other conversations suspend on it
	// instead of calling Join.
	JoinCondition() Condition

	// Remove kills the conversation. It waits for running fibers to
	// finish their segment. Removing an ended conversation is a no-op.
	// Called from one of the conversation's own fibers, removal happens
	// once that segment returns.
	Remove(ctx context.Context) error

	// Generator returns the named generator attached to the
	// conversation.
	Generator(name string) (Generator, bool)

	// AddGenerator attaches g; it is persisted with the conversation.
	AddGenerator(g Generator) error
}

// Generator is a long-lived, persisted helper attached to a conversation
// that hands out conditions over time (a ticker, a subscription).
type Generator interface {
	Name() string
	// OnLoad runs once after the owning conversation is read back.
	OnLoad(c Conversation)
	// Dispose runs once when the owning conversation is removed.
	Dispose()
}

// EndPoint is an external integration point that activates conditions.
// Conditions refer to endpoints through EndPointRef.
type EndPoint interface {
	Name() string
	// Stop is called once at engine shutdown; afterwards the endpoint
	// must not activate any condition.
	Stop(ctx context.Context) error
}

// Executor runs fiber tasks on a bounded set of workers.
type Executor interface {
	// Execute queues task. The engine passes a ctx carrying the fiber
	// (see FiberFromContext) so executors can label the task.
	Execute(ctx context.Context, task func(ctx context.Context)) error
	// Shutdown stops accepting tasks and waits until queued and
	// in-flight tasks have finished.
	Shutdown(ctx context.Context) error
}

// Engine owns the live conversations of one store.
type Engine interface {
	// RegisterProgram makes a program available to Sequence routines.
	RegisterProgram(def ProgramDefinition) error

	// Program looks a registered program up by name.
	Program(name string) (ProgramDefinition, error)

	// Start creates a conversation whose single initial fiber runs r.
	Start(ctx context.Context, r Routine) (Conversation, error)

	Conversation(id int) (Conversation, bool)
	Conversations() []Conversation

	AddEndPoint(ep EndPoint) error
	EndPoint(name string) (EndPoint, bool)

	// CheckError drains the errors of killed conversations. It returns
	// nil when none are pending.
	CheckError() error

	// Errors returns the pending errors without draining them.
	Errors() []error

	// Stop stops every endpoint, then waits until no fiber runs.
	Stop(ctx context.Context) error
}
