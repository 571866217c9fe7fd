package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session keys.
const DefaultKeyPrefix = "specgate:session:"

// RedisStore implements Store on Redis. Each session is one JSON string
// value under {prefix}{session_id}, refreshed to the TTL on every write.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects a store. A zero ttl keeps sessions until deleted.
func NewRedisStore(opts *redis.Options, prefix string, ttl time.Duration) (*RedisStore, error) {
	if opts == nil || opts.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: redis.NewClient(opts), prefix: prefix, ttl: ttl}, nil
}

// Key returns the Redis key of a session.
func (r *RedisStore) Key(sessionID string) string { return r.prefix + sessionID }

// Ping verifies Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

// Get reads a session.
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*State, error) {
	raw, err := r.rdb.Get(ctx, r.Key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("session.get", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session from Redis: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	return &st, nil
}

// Put writes a session and resets its TTL.
func (r *RedisStore) Put(ctx context.Context, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	if err := r.rdb.Set(ctx, r.Key(st.SessionID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session to Redis: %w", err)
	}
	return nil
}

// Delete removes a session.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, r.Key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}
