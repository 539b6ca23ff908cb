package connect

import (
	"context"
	"fmt"
	"time"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/platform"
)

const (
	// assumedTokenTTL applies when a provider grants a non-refreshable
	// token without an expiry hint; the account is treated as short-lived
	// and no refresh timer is armed.
	assumedTokenTTL = time.Hour

	// assumedRefreshableTTL applies when a refreshable grant omits
	// expires_in, so the refresh chain still has an anchor to fire from.
	assumedRefreshableTTL = 2 * time.Hour
)

// reconcile turns a successful callback into a durable linked account. The
// repository's upsert keys on (platform, platform_user_id, organization_id),
// so re-linking the same provider identity updates the existing row in place
// rather than minting a duplicate.
func (s *Service) reconcile(ctx context.Context, pending social.PendingAuthorization, result platform.CallbackResult) (social.LinkedAccount, error) {
	if result.Token == nil || result.Account == nil {
		return social.LinkedAccount{}, fmt.Errorf("reconcile %s: successful callback carried no token or profile", pending.Platform)
	}
	token := *result.Token
	profile := *result.Account

	refreshCred := social.RefreshCredential(pending.Platform, token)
	account := social.LinkedAccount{
		UserID:         pending.UserID,
		OrganizationID: pending.OrganizationID,
		Platform:       pending.Platform,
		PlatformUserID: profile.PlatformUserID,
		AccessToken:    token.AccessToken,
		RefreshToken:   refreshCred,
		TokenExpiresAt: tokenExpiry(token, refreshCred),
		Username:       profile.Username,
		DisplayName:    profile.DisplayName,
		AvatarURL:      profile.AvatarURL,
		Permissions:    profile.Permissions,
		Metadata:       profile.Metadata,
		IsActive:       true,
	}

	saved, err := s.accounts.Upsert(ctx, account)
	if err != nil {
		return social.LinkedAccount{}, err
	}

	if saved.Refreshable() {
		s.timers.Arm(saved.ID, saved.Platform, saved.TokenExpiresAt)
	}
	return saved, nil
}

func tokenExpiry(token social.Token, refreshCred *string) time.Time {
	now := time.Now().UTC()
	if token.ExpiresIn > 0 {
		return now.Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	if refreshCred == nil {
		return now.Add(assumedTokenTTL)
	}
	return now.Add(assumedRefreshableTTL)
}
