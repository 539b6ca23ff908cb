package social

import (
	"strings"
	"time"
)

// Platform identifies a supported third-party social network.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// ParsePlatform normalizes and validates a platform name.
func ParsePlatform(name string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(name))) {
	case PlatformTwitter:
		return PlatformTwitter, nil
	case PlatformLinkedIn:
		return PlatformLinkedIn, nil
	case PlatformFacebook:
		return PlatformFacebook, nil
	case PlatformInstagram:
		return PlatformInstagram, nil
	default:
		return "", ErrUnsupportedPlatform
	}
}

// Platforms lists every supported platform.
func Platforms() []Platform {
	return []Platform{PlatformTwitter, PlatformLinkedIn, PlatformFacebook, PlatformInstagram}
}

// PendingAuthorization captures the in-flight authorization context persisted
// between initiate and callback, keyed by the state token.
type PendingAuthorization struct {
	UserID         int64     `json:"user_id"`
	OrganizationID int64     `json:"organization_id"`
	Platform       Platform  `json:"platform"`
	CodeVerifier   string    `json:"code_verifier,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the pending authorization has passed its window.
// The backing store's TTL is the primary defense; this is the read-side check.
func (p PendingAuthorization) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// LinkedAccount is the durable record of one successful authorization grant,
// unique per (platform, platform_user_id, organization_id).
type LinkedAccount struct {
	ID             int64
	UserID         int64
	OrganizationID int64
	Platform       Platform
	PlatformUserID string
	AccessToken    string
	RefreshToken   *string
	TokenExpiresAt time.Time
	Username       string
	DisplayName    string
	AvatarURL      string
	Permissions    []string
	Metadata       map[string]any
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Refreshable reports whether the account holds a refresh credential.
func (a LinkedAccount) Refreshable() bool {
	return a.RefreshToken != nil && strings.TrimSpace(*a.RefreshToken) != ""
}

// ProviderAccount is the normalized profile a platform client extracts from a
// provider's own profile response shape.
type ProviderAccount struct {
	PlatformUserID string
	Username       string
	DisplayName    string
	AvatarURL      string
	Permissions    []string
	Metadata       map[string]any
}

// Token is a provider token grant. RefreshToken is nil when the provider
// issued a short-lived, non-refreshable grant.
type Token struct {
	AccessToken  string
	RefreshToken *string
	ExpiresIn    int64
}

// RefreshCredential picks the credential a later refresh must present for
// the platform. Facebook and Instagram issue no refresh tokens; their
// long-lived extension grants re-exchange the access token itself.
func RefreshCredential(platform Platform, token Token) *string {
	switch platform {
	case PlatformFacebook, PlatformInstagram:
		if token.AccessToken == "" {
			return nil
		}
		access := token.AccessToken
		return &access
	default:
		if token.RefreshToken == nil || strings.TrimSpace(*token.RefreshToken) == "" {
			return nil
		}
		return token.RefreshToken
	}
}

// AuditAction enumerates the auditable OAuth operations.
type AuditAction string

const (
	AuditInitiate AuditAction = "initiate"
	AuditCallback AuditAction = "callback"
	AuditRefresh  AuditAction = "refresh"
)

// AuditEvent is an append-only record of one initiate/callback/refresh attempt.
type AuditEvent struct {
	ID             int64
	UserID         int64
	OrganizationID int64
	Platform       Platform
	Action         AuditAction
	Success        bool
	IPAddress      string
	UserAgent      string
	Error          string
	Metadata       map[string]any
	CreatedAt      time.Time
}
