package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/statestore"
)

const stateKeyPrefix = "integrations:oauth:state:"

// RedisStateStore implements statestore.Store backed by Redis. The key TTL
// is the primary expiry; the entry's own ExpiresAt is also checked on read.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ statestore.Store = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Put stores the encoded pending authorization with TTL.
func (s *RedisStateStore) Put(ctx context.Context, key string, pending social.PendingAuthorization, ttl time.Duration) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending authorization: %w", err)
	}
	if err := s.client.Set(ctx, stateKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist pending authorization: %w", err)
	}
	return nil
}

// Get loads and decodes the pending authorization, returning (nil, nil) when
// the key is absent, already expired by Redis, or past its own ExpiresAt.
func (s *RedisStateStore) Get(ctx context.Context, key string) (*social.PendingAuthorization, error) {
	bytes, err := s.client.Get(ctx, stateKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load pending authorization: %w", err)
	}
	var pending social.PendingAuthorization
	if err := json.Unmarshal(bytes, &pending); err != nil {
		return nil, fmt.Errorf("decode pending authorization: %w", err)
	}
	if pending.Expired(time.Now()) {
		_ = s.client.Del(ctx, stateKeyPrefix+key).Err()
		return nil, nil
	}
	return &pending, nil
}

// Delete removes the persisted key.
func (s *RedisStateStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, stateKeyPrefix+key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete pending authorization: %w", err)
	}
	return nil
}
