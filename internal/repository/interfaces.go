package repository

import (
	"context"
	"time"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
)

// LinkedAccountRepository persists linked social accounts. Upsert must be
// atomic on the (platform, platform_user_id, organization_id) unique key so
// concurrent callbacks for the same identity never produce two records.
type LinkedAccountRepository interface {
	Upsert(ctx context.Context, account social.LinkedAccount) (social.LinkedAccount, error)
	GetByID(ctx context.Context, id int64) (social.LinkedAccount, error)
	ListActiveByOrg(ctx context.Context, organizationID int64, platform social.Platform) ([]social.LinkedAccount, error)
	ListRefreshable(ctx context.Context) ([]social.LinkedAccount, error)
	// UpdateTokens persists refreshed tokens only while the account is still
	// active; it returns social.ErrAccountNotFound otherwise, so a refresh
	// racing a disconnect discards its result.
	UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiresAt time.Time) error
	// Deactivate soft-deletes: is_active false and tokens nulled, row kept.
	Deactivate(ctx context.Context, id int64) error
}

// AuditRepository appends audit events. Events are never mutated or deleted.
type AuditRepository interface {
	Insert(ctx context.Context, event social.AuditEvent) error
}
