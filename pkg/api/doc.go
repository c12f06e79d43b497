// Package api holds the types shared by the dalma engine and the code
// that runs on it: conditions, routines, fibers, conversations,
// endpoints and observers.
//
// # Conditions
//
// A Condition is a serializable wait token. A fiber returns one from
// Routine.Run to suspend; the engine parks it, persists the conversation
// once no fiber of it runs, and resumes the fiber when some external
// event calls Activate. Activation happens at most once.
//
// Concrete conditions embed Base and implement OnParked, OnInterrupt and
// OnLoad. OrCondition composes several of them; the first to activate
// wins and the others are interrupted:
//
//	return api.Or(inbox.Receive("reply"), timer.After(5*time.Second)), nil
//
// # Routines
//
// A Routine is the body of a fiber, written as an explicit state machine
// whose exported fields are the state that survives a restart. Sequence
// is a ready-made Routine that runs the steps of a registered
// ProgramDefinition.
//
// # References
//
// Conditions and routines that point at engine singletons hold an
// EndPointRef, ConversationRef or EngineRef. Only a name or an ID is
// stored; the reference is bound to the live object after the
// conversation is read back.
//
// # Observability
//
// Observer receives lifecycle callbacks. LoggingObserver, BasicMetrics
// and CompositeObserver cover the common cases; richer observers live in
// package observe.
package api
