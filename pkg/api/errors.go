package api

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Activate on a condition that was
	// already activated.
	ErrAlreadyActive = errors.New("condition already active")

	// ErrNoConditions is returned when a fiber suspends on an empty
	// OrCondition.
	ErrNoConditions = errors.New("suspend on empty condition set")

	// ErrEngineStopped is returned by operations on a stopped engine.
	ErrEngineStopped = errors.New("engine stopped")

	// ErrConversationEnded is returned when spawning into a removed
	// conversation.
	ErrConversationEnded = errors.New("conversation ended")

	// ErrUnknownProgram is returned when a Sequence names a program that
	// is not registered.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrUnknownStep is returned by Scope.Goto targets that do not exist.
	ErrUnknownStep = errors.New("unknown step")

	// ErrUnresolvedMoniker is returned when a persisted reference cannot
	// be bound to a live object.
	ErrUnresolvedMoniker = errors.New("unresolved moniker")

	// ErrDuplicateEndPoint is returned by AddEndPoint for a taken name.
	ErrDuplicateEndPoint = errors.New("endpoint already registered")

	// ErrNotRunning is returned by Spawn when the conversation is at
	// rest. Fibers are spawned from a fiber of the same conversation.
	ErrNotRunning = errors.New("conversation is not running")

	// ErrJoinFromFiber is returned by Conversation.Join when called from
	// a fiber. Fibers suspend on JoinCondition instead.
	ErrJoinFromFiber = errors.New("join called from a fiber; suspend on JoinCondition")
)

// ConversationError records why a conversation was killed. Errors of this
// type are queued on the engine and drained with CheckError.
type ConversationError struct {
	ConversationID int
	// FiberID is 0 when the failure was not tied to a single fiber,
	// for example a persistence failure.
	FiberID int
	Err     error
}

func (e *ConversationError) Error() string {
	if e.FiberID == 0 {
		return fmt.Sprintf("conversation %d: %v", e.ConversationID, e.Err)
	}
	return fmt.Sprintf("conversation %d fiber %d: %v", e.ConversationID, e.FiberID, e.Err)
}

func (e *ConversationError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking routine.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("routine panicked: %v", e.Value)
}
