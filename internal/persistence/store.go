package persistence

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is the durable backing of an engine. Records are opaque blobs
// produced by Encode; the store only has to keep them apart by
// conversation and kind.
//
// Each Save must replace the previous record atomically: a crash must
// leave either the old or the new content, never a mix.
type Store interface {
	// LoadEngine returns the engine metadata, or ErrNotFound on a fresh
	// store.
	LoadEngine(ctx context.Context) ([]byte, error)
	SaveEngine(ctx context.Context, data []byte) error

	// ListConversations returns the IDs of all conversations that have a
	// state record, in ascending order.
	ListConversations(ctx context.Context) ([]int, error)

	LoadState(ctx context.Context, id int) ([]byte, error)
	SaveState(ctx context.Context, id int, data []byte) error

	LoadContinuation(ctx context.Context, id int) ([]byte, error)
	SaveContinuation(ctx context.Context, id int, data []byte) error
	DeleteContinuation(ctx context.Context, id int) error

	// DeleteConversation removes every record of a conversation. It is
	// idempotent.
	DeleteConversation(ctx context.Context, id int) error
}
