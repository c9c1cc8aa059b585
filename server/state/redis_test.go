package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	addr := os.Getenv("LOBBY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOBBY_TEST_REDIS_ADDR not set")
	}
	client := NewRedisClient(addr)
	require.NoError(t, client.Ping(context.Background()).Err())
	b := NewRedisBackend(client)
	b.prefix = "lobby:test:" + t.Name() + ":"
	t.Cleanup(func() {
		_, _ = b.DeletePrefix(context.Background(), "")
		client.Close()
	})
	return b
}

func TestRedisBackend_PrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newRedisBackend(t))

	require.NoError(t, s.SetState(ctx, "room:a*b:1", "x"))
	require.NoError(t, s.SetState(ctx, "room:aZb:2", "y"))
	require.NoError(t, s.SetStateTTL(ctx, "room:a*b:3", "z", 50*time.Millisecond))

	keys, err := s.GetKeysByPrefix(ctx, "room:a*b:")
	require.NoError(t, err)
	assert.Equal(t, []string{"room:a*b:1", "room:a*b:3"}, keys)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, s.HasState(ctx, "room:a*b:3"))
}
