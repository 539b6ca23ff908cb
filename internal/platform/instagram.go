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

const instagramScopes = "user_profile,user_media"

// InstagramClient implements the Instagram Basic Display flow. The token
// endpoint returns the numeric user id alongside the token; long-lived
// tokens are maintained via the ig_refresh_token extension.
type InstagramClient struct {
	creds      config.PlatformCredentials
	endpoints  Endpoints
	refreshURL string
	httpClient *http.Client
}

var _ Client = (*InstagramClient)(nil)

func NewInstagramClient(creds config.PlatformCredentials, endpoints Endpoints, timeout time.Duration) *InstagramClient {
	if endpoints.AuthURL == "" {
		endpoints.AuthURL = "https://api.instagram.com/oauth/authorize"
	}
	if endpoints.TokenURL == "" {
		endpoints.TokenURL = "https://api.instagram.com/oauth/access_token"
	}
	if endpoints.ProfileURL == "" {
		endpoints.ProfileURL = "https://graph.instagram.com/me"
	}
	return &InstagramClient{
		creds:      creds,
		endpoints:  endpoints,
		refreshURL: deriveRefreshURL(endpoints.ProfileURL),
		httpClient: newHTTPClient(timeout),
	}
}

// deriveRefreshURL places refresh_access_token next to the profile endpoint
// so httptest doubles cover refresh without extra wiring.
func deriveRefreshURL(profileURL string) string {
	if idx := strings.LastIndex(profileURL, "/me"); idx >= 0 {
		return profileURL[:idx] + "/refresh_access_token"
	}
	return "https://graph.instagram.com/refresh_access_token"
}

func (c *InstagramClient) Platform() social.Platform {
	return social.PlatformInstagram
}

func (c *InstagramClient) GenerateAuthURL(state string) (*AuthLink, error) {
	authURL, err := url.Parse(c.endpoints.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("instagram: parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("response_type", "code")
	params.Set("client_id", c.creds.ClientID)
	params.Set("redirect_uri", c.creds.RedirectURI)
	params.Set("scope", instagramScopes)
	params.Set("state", state)
	authURL.RawQuery = params.Encode()
	return &AuthLink{URL: authURL.String()}, nil
}

func (c *InstagramClient) HandleCallback(ctx context.Context, code, _ string) CallbackResult {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.creds.RedirectURI)
	data.Set("client_id", c.creds.ClientID)
	data.Set("client_secret", c.creds.ClientSecret)

	raw, err := postForm(ctx, c.httpClient, c.endpoints.TokenURL, data, "", "")
	if err != nil {
		return callbackFailure("instagram token exchange failed: %v", err)
	}
	token := tokenFromResponse(raw)
	if token.AccessToken == "" {
		return callbackFailure("instagram token exchange returned no access token")
	}
	userID := stringValue(raw["user_id"])

	account, err := c.fetchProfile(ctx, token.AccessToken)
	if err != nil {
		return callbackFailure("instagram profile fetch failed: %v", err)
	}
	if account.PlatformUserID == "" {
		account.PlatformUserID = userID
	}
	return CallbackResult{Success: true, Account: account, Token: token}
}

// RefreshAccessToken extends a long-lived token via ig_refresh_token.
func (c *InstagramClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*social.Token, error) {
	refreshURL := c.refreshURL + "?grant_type=ig_refresh_token&access_token=" + url.QueryEscape(refreshToken)
	raw, err := getJSON(ctx, c.httpClient, refreshURL, "")
	if err != nil {
		return nil, nil
	}
	token := tokenFromResponse(raw)
	if token.AccessToken == "" {
		return nil, nil
	}
	return token, nil
}

func (c *InstagramClient) fetchProfile(ctx context.Context, accessToken string) (*social.ProviderAccount, error) {
	profileURL := c.endpoints.ProfileURL + "?fields=" + url.QueryEscape("id,username,account_type") +
		"&access_token=" + url.QueryEscape(accessToken)
	raw, err := getJSON(ctx, c.httpClient, profileURL, "")
	if err != nil {
		return nil, err
	}
	username := stringValue(raw["username"])
	return &social.ProviderAccount{
		PlatformUserID: stringValue(raw["id"]),
		Username:       username,
		DisplayName:    username,
		Permissions:    strings.Split(instagramScopes, ","),
		Metadata:       map[string]any{"account_type": stringValue(raw["account_type"])},
	}, nil
}
