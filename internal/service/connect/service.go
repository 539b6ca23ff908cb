// Package connect orchestrates the linking lifecycle for social platform
// accounts: initiating the authorization redirect, completing the callback
// leg, manual refresh, status listing, and disconnect. It is the only layer
// that composes the state token, state store, platform clients, repository
// and refresh timers; HTTP handlers stay thin on top of it.
package connect

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/audit"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/platform"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/repository"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/statestore"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/statetoken"
)

// Principal is the authenticated caller on whose behalf an operation runs.
type Principal struct {
	UserID         int64
	OrganizationID int64
}

// RequestMeta carries request attribution for the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// ClientSource maps a platform to its OAuth client.
type ClientSource interface {
	Get(platform social.Platform) (platform.Client, error)
}

// TimerRegistry is the slice of the refresh scheduler the service drives.
type TimerRegistry interface {
	Arm(accountID int64, platform social.Platform, expiresAt time.Time)
	Cancel(accountID int64)
}

// AccountStatus is the connection summary exposed to callers. It carries no
// token material.
type AccountStatus struct {
	ID             int64           `json:"id,string"`
	Platform       social.Platform `json:"platform"`
	PlatformUserID string          `json:"platform_user_id"`
	Username       string          `json:"username"`
	DisplayName    string          `json:"display_name,omitempty"`
	AvatarURL      string          `json:"avatar_url,omitempty"`
	Permissions    []string        `json:"permissions,omitempty"`
	TokenExpiresAt time.Time       `json:"token_expires_at"`
	Refreshable    bool            `json:"refreshable"`
	ConnectedAt    time.Time       `json:"connected_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Service implements the account linking operations.
type Service struct {
	tokens   *statetoken.Issuer
	states   statestore.Store
	clients  ClientSource
	accounts repository.LinkedAccountRepository
	timers   TimerRegistry
	audit    audit.Sink
	stateTTL time.Duration
	logger   *zap.Logger
}

func New(
	tokens *statetoken.Issuer,
	states statestore.Store,
	clients ClientSource,
	accounts repository.LinkedAccountRepository,
	timers TimerRegistry,
	sink audit.Sink,
	stateTTL time.Duration,
	logger *zap.Logger,
) *Service {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Service{
		tokens:   tokens,
		states:   states,
		clients:  clients,
		accounts: accounts,
		timers:   timers,
		audit:    sink,
		stateTTL: stateTTL,
		logger:   logger,
	}
}

// Initiate starts an authorization flow and returns the provider redirect
// URL. The signed state token is stored with the flow context (including the
// PKCE verifier for platforms that need one) before the URL is handed out.
func (s *Service) Initiate(ctx context.Context, principal Principal, platformName string, meta RequestMeta) (string, error) {
	p, err := social.ParsePlatform(platformName)
	if err != nil {
		return "", err
	}

	client, err := s.clients.Get(p)
	if err != nil {
		return "", err
	}

	state, err := s.tokens.Generate(principal.UserID, principal.OrganizationID)
	if err != nil {
		return "", err
	}

	link, err := client.GenerateAuthURL(state)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	pending := social.PendingAuthorization{
		UserID:         principal.UserID,
		OrganizationID: principal.OrganizationID,
		Platform:       p,
		CodeVerifier:   link.CodeVerifier,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.stateTTL),
	}
	// Without the stored context the callback could never be honored, so a
	// store failure aborts the flow instead of minting a dead redirect.
	if err := s.states.Put(ctx, state, pending, s.stateTTL); err != nil {
		s.record(principal.UserID, principal.OrganizationID, p, social.AuditInitiate, false, "state store unavailable", meta)
		return "", err
	}

	s.record(principal.UserID, principal.OrganizationID, p, social.AuditInitiate, true, "", meta)
	return link.URL, nil
}

// HandleCallback completes the authorization flow. The caller is whoever the
// state token says started the flow; the redirect itself is unauthenticated.
// Every state problem collapses to ErrInvalidState so callers cannot
// distinguish forged, expired, replayed and mismatched states.
func (s *Service) HandleCallback(ctx context.Context, platformName, state, code, providerErr string, meta RequestMeta) (social.LinkedAccount, error) {
	p, err := social.ParsePlatform(platformName)
	if err != nil {
		return social.LinkedAccount{}, err
	}

	// Signature check first: forged states are rejected without touching
	// the store. Parse also yields the owner for audit attribution.
	claims, err := s.tokens.Parse(state)
	if err != nil {
		s.record(0, 0, p, social.AuditCallback, false, "invalid state token", meta)
		return social.LinkedAccount{}, social.ErrInvalidState
	}

	if providerErr != "" {
		s.record(claims.UserID, claims.OrganizationID, p, social.AuditCallback, false, "provider denied authorization: "+providerErr, meta)
		return social.LinkedAccount{}, social.ErrProviderRejected
	}

	pending, err := s.states.Get(ctx, state)
	if err != nil {
		// Failing closed keeps an unreachable store from turning into an
		// accepted callback.
		s.logger.Warn("state store lookup failed", zap.Error(err))
		s.record(claims.UserID, claims.OrganizationID, p, social.AuditCallback, false, "state store unavailable", meta)
		return social.LinkedAccount{}, social.ErrInvalidState
	}
	if pending == nil {
		s.record(claims.UserID, claims.OrganizationID, p, social.AuditCallback, false, "state expired or already used", meta)
		return social.LinkedAccount{}, social.ErrInvalidState
	}
	if pending.UserID != claims.UserID || pending.OrganizationID != claims.OrganizationID || pending.Platform != p {
		s.record(claims.UserID, claims.OrganizationID, p, social.AuditCallback, false, "state does not match flow context", meta)
		return social.LinkedAccount{}, social.ErrInvalidState
	}

	// Consume before exchanging the code so a concurrent replay of the same
	// state finds nothing, whatever the provider then answers.
	if err := s.states.Delete(ctx, state); err != nil {
		s.logger.Warn("state delete failed", zap.Error(err))
	}

	if p == social.PlatformTwitter && strings.TrimSpace(pending.CodeVerifier) == "" {
		s.record(claims.UserID, claims.OrganizationID, p, social.AuditCallback, false, "missing code verifier", meta)
		return social.LinkedAccount{}, social.ErrInvalidState
	}

	client, err := s.clients.Get(p)
	if err != nil {
		return social.LinkedAccount{}, err
	}

	result := client.HandleCallback(ctx, code, pending.CodeVerifier)
	if !result.Success {
		s.record(claims.UserID, claims.OrganizationID, p, social.AuditCallback, false, result.Err, meta)
		return social.LinkedAccount{}, social.ErrProviderRejected
	}

	account, err := s.reconcile(ctx, *pending, result)
	if err != nil {
		s.record(claims.UserID, claims.OrganizationID, p, social.AuditCallback, false, "failed to persist linked account", meta)
		return social.LinkedAccount{}, err
	}

	s.record(claims.UserID, claims.OrganizationID, p, social.AuditCallback, true, "", meta)
	return account, nil
}

// Refresh forces an immediate token refresh for one of the caller's
// accounts. A provider rejection is terminal: the timer is cancelled and the
// end user has to re-authorize.
func (s *Service) Refresh(ctx context.Context, principal Principal, accountID int64, meta RequestMeta) (social.LinkedAccount, error) {
	account, err := s.ownedAccount(ctx, principal, accountID)
	if err != nil {
		return social.LinkedAccount{}, err
	}
	if !account.Refreshable() {
		return social.LinkedAccount{}, social.ErrNotRefreshable
	}

	client, err := s.clients.Get(account.Platform)
	if err != nil {
		return social.LinkedAccount{}, err
	}

	token, err := client.RefreshAccessToken(ctx, *account.RefreshToken)
	if err != nil || token == nil {
		s.timers.Cancel(account.ID)
		// The audit row names the acting caller, who need not be the user
		// that originally linked the account.
		s.record(principal.UserID, principal.OrganizationID, account.Platform, social.AuditRefresh, false, "provider rejected refresh token", meta)
		return social.LinkedAccount{}, social.ErrRefreshFailed
	}

	refreshCred := social.RefreshCredential(account.Platform, *token)
	if refreshCred == nil {
		refreshCred = account.RefreshToken
	}
	expiresAt := tokenExpiry(*token, refreshCred)

	if err := s.accounts.UpdateTokens(ctx, account.ID, token.AccessToken, refreshCred, expiresAt); err != nil {
		return social.LinkedAccount{}, err
	}

	account.AccessToken = token.AccessToken
	account.RefreshToken = refreshCred
	account.TokenExpiresAt = expiresAt

	s.timers.Arm(account.ID, account.Platform, expiresAt)
	s.record(principal.UserID, principal.OrganizationID, account.Platform, social.AuditRefresh, true, "", meta)
	return account, nil
}

// Status lists the caller's active connections, optionally filtered by
// platform. Token values never appear in the result.
func (s *Service) Status(ctx context.Context, principal Principal, platformFilter string) ([]AccountStatus, error) {
	var p social.Platform
	if strings.TrimSpace(platformFilter) != "" {
		parsed, err := social.ParsePlatform(platformFilter)
		if err != nil {
			return nil, err
		}
		p = parsed
	}

	accounts, err := s.accounts.ListActiveByOrg(ctx, principal.OrganizationID, p)
	if err != nil {
		return nil, err
	}

	statuses := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		statuses = append(statuses, AccountStatus{
			ID:             account.ID,
			Platform:       account.Platform,
			PlatformUserID: account.PlatformUserID,
			Username:       account.Username,
			DisplayName:    account.DisplayName,
			AvatarURL:      account.AvatarURL,
			Permissions:    account.Permissions,
			TokenExpiresAt: account.TokenExpiresAt,
			Refreshable:    account.Refreshable(),
			ConnectedAt:    account.CreatedAt,
			UpdatedAt:      account.UpdatedAt,
		})
	}
	return statuses, nil
}

// Disconnect deactivates a linked account and stops its refresh timer. The
// row is kept for audit purposes with its tokens nulled.
func (s *Service) Disconnect(ctx context.Context, principal Principal, accountID int64) error {
	account, err := s.ownedAccount(ctx, principal, accountID)
	if err != nil {
		return err
	}
	if err := s.accounts.Deactivate(ctx, account.ID); err != nil {
		return err
	}
	s.timers.Cancel(account.ID)
	return nil
}

// ownedAccount loads an account and hides its existence from callers outside
// the owning organization.
func (s *Service) ownedAccount(ctx context.Context, principal Principal, accountID int64) (social.LinkedAccount, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return social.LinkedAccount{}, err
	}
	if account.OrganizationID != principal.OrganizationID || !account.IsActive {
		return social.LinkedAccount{}, social.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) record(userID, organizationID int64, p social.Platform, action social.AuditAction, success bool, detail string, meta RequestMeta) {
	if s.audit == nil {
		return
	}
	s.audit.Record(social.AuditEvent{
		UserID:         userID,
		OrganizationID: organizationID,
		Platform:       p,
		Action:         action,
		Success:        success,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		Error:          detail,
	})
}
