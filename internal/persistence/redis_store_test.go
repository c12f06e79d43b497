package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const prefix = "dalma:test:"

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisStore(client, prefix), mr
}

func TestRedisStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s, _ := newTestRedisStore(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	require.NoError(t, s.SaveState(ctx, 3, []byte("state")))
	require.NoError(t, s.SaveContinuation(ctx, 3, []byte("cont")))

	require.True(t, mr.Exists(prefix+"conv:3:state"))
	require.True(t, mr.Exists(prefix+"conv:3:cont"))
	ok, err := mr.SIsMember(prefix+"convs", "3")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.DeleteConversation(ctx, 3))
	require.False(t, mr.Exists(prefix+"conv:3:state"))
	require.False(t, mr.Exists(prefix+"conv:3:cont"))
}

func TestRedisStore_DefaultPrefix(t *testing.T) {
	s := NewRedisStore(nil, "")
	require.Equal(t, "dalma:engine", s.keyEngine())
}
