package persistence

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a goroutine-safe Store backed by maps. Records are
// copied on the way in and out, so callers may reuse their buffers.
type InMemoryStore struct {
	mu            sync.RWMutex
	engine        []byte
	states        map[int][]byte
	continuations map[int][]byte
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:        make(map[int][]byte),
		continuations: make(map[int][]byte),
	}
}

// Ensure InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) LoadEngine(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.engine == nil {
		return nil, ErrNotFound
	}
	return clone(s.engine), nil
}

func (s *InMemoryStore) SaveEngine(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine = clone(data)
	return nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *InMemoryStore) LoadState(ctx context.Context, id int) ([]byte, error) {
	return s.load(s.states, id)
}

func (s *InMemoryStore) SaveState(ctx context.Context, id int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[id] = clone(data)
	return nil
}

func (s *InMemoryStore) LoadContinuation(ctx context.Context, id int) ([]byte, error) {
	return s.load(s.continuations, id)
}

func (s *InMemoryStore) SaveContinuation(ctx context.Context, id int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.continuations[id] = clone(data)
	return nil
}

func (s *InMemoryStore) DeleteContinuation(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.continuations, id)
	return nil
}

func (s *InMemoryStore) DeleteConversation(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, id)
	delete(s.continuations, id)
	return nil
}

func (s *InMemoryStore) load(m map[int][]byte, id int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(data), nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
