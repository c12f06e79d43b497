// Package worker provides the bounded worker pool that executes fiber
// segments for a dalma engine.
//
// A Pool consumes tasks from a task queue and runs each on one of a fixed
// number of goroutines. It implements api.Executor, so an engine hands it
// every fiber that becomes runnable; the pool size therefore bounds how
// many fibers run at the same time across all conversations.
//
// # Shutdown
//
// Shutdown closes the queue, lets the workers drain the tasks that were
// already queued and waits for them to return. Tasks submitted after
// Shutdown are rejected with ErrPoolClosed; the engine leaves such fibers
// RUNNABLE and they resume after the next load.
//
// # Failures
//
// A task that panics does not take its worker down. The panic is logged
// and counted in Stats; the engine recovers routine panics itself, so this
// only catches faults in the engine's own bookkeeping.
package worker
