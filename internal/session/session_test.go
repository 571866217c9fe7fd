package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/specgate/internal/governance"
)

// setupRedisStore creates a store connected to a miniredis instance.
func setupRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	s, err := NewRedisStore(&redis.Options{Addr: mr.Addr()}, "", ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func sample() *State {
	return &State{SessionID: "sess-1", ProjectID: "acme", Phase: "routing", PinnedVersion: 3, Turn: 2}
}

func TestStores(t *testing.T) {
	redisStore, _ := setupRedisStore(t, 0)
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "sess-1")
			assert.True(t, errors.Is(err, governance.NotFound), "err = %v", err)

			require.NoError(t, s.Put(ctx, sample()))
			got, err := s.Get(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, sample(), got)

			got.Turn = 99
			again, err := s.Get(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, 2, again.Turn, "stored state is not aliased")

			require.NoError(t, s.Delete(ctx, "sess-1"))
			_, err = s.Get(ctx, "sess-1")
			assert.True(t, errors.Is(err, governance.NotFound))
			assert.NoError(t, s.Delete(ctx, "never-existed"))
		})
	}
}

func TestRedisStore_KeyAndTTL(t *testing.T) {
	s, mr := setupRedisStore(t, time.Hour)
	require.NoError(t, s.Put(context.Background(), sample()))

	assert.True(t, mr.Exists("specgate:session:sess-1"))
	assert.Equal(t, time.Hour, mr.TTL("specgate:session:sess-1"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(context.Background(), "sess-1")
	assert.True(t, errors.Is(err, governance.NotFound), "expired sessions are gone")
}

func TestRedisStore_CorruptValue(t *testing.T) {
	s, mr := setupRedisStore(t, 0)
	require.NoError(t, mr.Set("specgate:session:bad", "{not json"))

	_, err := s.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.False(t, errors.Is(err, governance.NotFound))
}

func TestRedisStore_Ping(t *testing.T) {
	s, _ := setupRedisStore(t, 0)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewRedisStore_RequiresAddr(t *testing.T) {
	_, err := NewRedisStore(&redis.Options{}, "", 0)
	assert.Error(t, err)
}
