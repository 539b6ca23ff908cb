package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/config"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
)

const linkedinScopes = "openid profile email w_member_social"

// LinkedInClient implements the LinkedIn OAuth2 flow with its OIDC-style
// userinfo endpoint.
type LinkedInClient struct {
	creds      config.PlatformCredentials
	endpoints  Endpoints
	httpClient *http.Client
}

var _ Client = (*LinkedInClient)(nil)

func NewLinkedInClient(creds config.PlatformCredentials, endpoints Endpoints, timeout time.Duration) *LinkedInClient {
	if endpoints.AuthURL == "" {
		endpoints.AuthURL = "https://www.linkedin.com/oauth/v2/authorization"
	}
	if endpoints.TokenURL == "" {
		endpoints.TokenURL = "https://www.linkedin.com/oauth/v2/accessToken"
	}
	if endpoints.ProfileURL == "" {
		endpoints.ProfileURL = "https://api.linkedin.com/v2/userinfo"
	}
	return &LinkedInClient{creds: creds, endpoints: endpoints, httpClient: newHTTPClient(timeout)}
}

func (c *LinkedInClient) Platform() social.Platform {
	return social.PlatformLinkedIn
}

func (c *LinkedInClient) GenerateAuthURL(state string) (*AuthLink, error) {
	authURL, err := url.Parse(c.endpoints.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("linkedin: parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("response_type", "code")
	params.Set("client_id", c.creds.ClientID)
	params.Set("redirect_uri", c.creds.RedirectURI)
	params.Set("scope", linkedinScopes)
	params.Set("state", state)
	authURL.RawQuery = params.Encode()
	return &AuthLink{URL: authURL.String()}, nil
}

func (c *LinkedInClient) HandleCallback(ctx context.Context, code, _ string) CallbackResult {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.creds.RedirectURI)
	data.Set("client_id", c.creds.ClientID)
	data.Set("client_secret", c.creds.ClientSecret)

	raw, err := postForm(ctx, c.httpClient, c.endpoints.TokenURL, data, "", "")
	if err != nil {
		return callbackFailure("linkedin token exchange failed: %v", err)
	}
	token := tokenFromResponse(raw)
	if token.AccessToken == "" {
		return callbackFailure("linkedin token exchange returned no access token")
	}

	account, err := c.fetchProfile(ctx, token.AccessToken)
	if err != nil {
		return callbackFailure("linkedin profile fetch failed: %v", err)
	}
	return CallbackResult{Success: true, Account: account, Token: token}
}

// RefreshAccessToken uses the standard refresh grant. LinkedIn only issues
// refresh tokens to approved applications; without one this is never called.
func (c *LinkedInClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*social.Token, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.creds.ClientID)
	data.Set("client_secret", c.creds.ClientSecret)

	raw, err := postForm(ctx, c.httpClient, c.endpoints.TokenURL, data, "", "")
	if err != nil {
		return nil, nil
	}
	token := tokenFromResponse(raw)
	if token.AccessToken == "" {
		return nil, nil
	}
	return token, nil
}

func (c *LinkedInClient) fetchProfile(ctx context.Context, accessToken string) (*social.ProviderAccount, error) {
	raw, err := getJSON(ctx, c.httpClient, c.endpoints.ProfileURL, accessToken)
	if err != nil {
		return nil, err
	}
	sub := stringValue(raw["sub"])
	if sub == "" {
		return nil, fmt.Errorf("userinfo missing subject")
	}

	name := stringValue(raw["name"])
	email := stringValue(raw["email"])
	username := email
	if idx := strings.Index(email, "@"); idx > 0 {
		username = email[:idx]
	}
	if username == "" {
		username = name
	}

	return &social.ProviderAccount{
		PlatformUserID: sub,
		Username:       username,
		DisplayName:    name,
		AvatarURL:      stringValue(raw["picture"]),
		Permissions:    strings.Fields(linkedinScopes),
		Metadata:       map[string]any{"email": email},
	}, nil
}
