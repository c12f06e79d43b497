package persistence

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis.
// It uses a simple key structure:
//
//	<prefix>engine          => engine record
//	<prefix>conv:<id>:state => conversation record
//	<prefix>conv:<id>:cont  => continuation record
//	<prefix>convs           => SET of IDs that have a conversation record
//
// A single SET replaces a record atomically; the index is updated in the
// same MULTI block.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "dalma:").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "dalma:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyEngine() string {
	return s.prefix + "engine"
}

func (s *RedisStore) keyIndex() string {
	return s.prefix + "convs"
}

func (s *RedisStore) keyState(id int) string {
	return s.prefix + "conv:" + strconv.Itoa(id) + ":state"
}

func (s *RedisStore) keyContinuation(id int) string {
	return s.prefix + "conv:" + strconv.Itoa(id) + ":cont"
}

func (s *RedisStore) LoadEngine(ctx context.Context) ([]byte, error) {
	return s.get(ctx, s.keyEngine())
}

func (s *RedisStore) SaveEngine(ctx context.Context, data []byte) error {
	return s.client.Set(ctx, s.keyEngine(), data, 0).Err()
}

func (s *RedisStore) ListConversations(ctx context.Context) ([]int, error) {
	members, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *RedisStore) LoadState(ctx context.Context, id int) ([]byte, error) {
	return s.get(ctx, s.keyState(id))
}

func (s *RedisStore) SaveState(ctx context.Context, id int, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyState(id), data, 0)
	pipe.SAdd(ctx, s.keyIndex(), strconv.Itoa(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) LoadContinuation(ctx context.Context, id int) ([]byte, error) {
	return s.get(ctx, s.keyContinuation(id))
}

func (s *RedisStore) SaveContinuation(ctx context.Context, id int, data []byte) error {
	return s.client.Set(ctx, s.keyContinuation(id), data, 0).Err()
}

func (s *RedisStore) DeleteContinuation(ctx context.Context, id int) error {
	return s.client.Del(ctx, s.keyContinuation(id)).Err()
}

func (s *RedisStore) DeleteConversation(ctx context.Context, id int) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyState(id), s.keyContinuation(id))
	pipe.SRem(ctx, s.keyIndex(), strconv.Itoa(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}
