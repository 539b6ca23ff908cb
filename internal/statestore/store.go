// Package statestore persists in-flight authorization context between the
// initiate and callback legs of an OAuth flow. Entries are short-lived and
// consumed exactly once.
package statestore

import (
	"context"
	"time"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
)

// Store is a key-value store with per-key expiry for pending authorizations.
// Get returns (nil, nil) for absent or expired keys; implementations must
// also honor the entry's own ExpiresAt on read as a second line of defense
// against stores that do not expire promptly.
type Store interface {
	Put(ctx context.Context, key string, pending social.PendingAuthorization, ttl time.Duration) error
	Get(ctx context.Context, key string) (*social.PendingAuthorization, error)
	Delete(ctx context.Context, key string) error
}
