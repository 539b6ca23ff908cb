package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
)

func newTestStore(t *testing.T) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStateStore(client), mr
}

func testPending(ttl time.Duration) social.PendingAuthorization {
	now := time.Now().UTC()
	return social.PendingAuthorization{
		UserID:         1,
		OrganizationID: 2,
		Platform:       social.PlatformTwitter,
		CodeVerifier:   "verifier",
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

func TestRedisStateStore_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	pending := testPending(10 * time.Minute)
	require.NoError(t, store.Put(ctx, "s1", pending, 10*time.Minute))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, social.PlatformTwitter, got.Platform)
	require.Equal(t, "verifier", got.CodeVerifier)

	require.NoError(t, store.Delete(ctx, "s1"))
	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisStateStore_TTLExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "s1", testPending(10*time.Minute), 10*time.Minute))
	mr.FastForward(11 * time.Minute)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisStateStore_EmbeddedExpiryCheckedOnRead(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Key TTL is generous but the payload's ExpiresAt has passed; the
	// read-side check must treat the state as absent.
	require.NoError(t, store.Put(ctx, "s1", testPending(-time.Second), time.Hour))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisStateStore_DeleteAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Delete(context.Background(), "missing"))
}
