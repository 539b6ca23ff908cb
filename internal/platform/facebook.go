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

const facebookScopes = "public_profile,pages_show_list,pages_read_engagement,pages_manage_posts"

// FacebookClient implements the Facebook Graph OAuth flow. Facebook issues
// no refresh tokens; long-lived access is obtained by re-exchanging the
// current token via the fb_exchange_token grant.
type FacebookClient struct {
	creds      config.PlatformCredentials
	endpoints  Endpoints
	httpClient *http.Client
}

var _ Client = (*FacebookClient)(nil)

func NewFacebookClient(creds config.PlatformCredentials, endpoints Endpoints, timeout time.Duration) *FacebookClient {
	if endpoints.AuthURL == "" {
		endpoints.AuthURL = "https://www.facebook.com/v19.0/dialog/oauth"
	}
	if endpoints.TokenURL == "" {
		endpoints.TokenURL = "https://graph.facebook.com/v19.0/oauth/access_token"
	}
	if endpoints.ProfileURL == "" {
		endpoints.ProfileURL = "https://graph.facebook.com/v19.0/me"
	}
	return &FacebookClient{creds: creds, endpoints: endpoints, httpClient: newHTTPClient(timeout)}
}

func (c *FacebookClient) Platform() social.Platform {
	return social.PlatformFacebook
}

func (c *FacebookClient) GenerateAuthURL(state string) (*AuthLink, error) {
	authURL, err := url.Parse(c.endpoints.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("facebook: parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("response_type", "code")
	params.Set("client_id", c.creds.ClientID)
	params.Set("redirect_uri", c.creds.RedirectURI)
	params.Set("scope", facebookScopes)
	params.Set("state", state)
	authURL.RawQuery = params.Encode()
	return &AuthLink{URL: authURL.String()}, nil
}

func (c *FacebookClient) HandleCallback(ctx context.Context, code, _ string) CallbackResult {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.creds.RedirectURI)
	data.Set("client_id", c.creds.ClientID)
	data.Set("client_secret", c.creds.ClientSecret)

	raw, err := postForm(ctx, c.httpClient, c.endpoints.TokenURL, data, "", "")
	if err != nil {
		return callbackFailure("facebook token exchange failed: %v", err)
	}
	token := tokenFromResponse(raw)
	if token.AccessToken == "" {
		return callbackFailure("facebook token exchange returned no access token")
	}

	// Trade the short-lived token for a long-lived one straight away; the
	// short variant expires within hours.
	if longLived, err := c.exchangeLongLived(ctx, token.AccessToken); err == nil && longLived != nil {
		token = longLived
	}

	account, err := c.fetchProfile(ctx, token.AccessToken)
	if err != nil {
		return callbackFailure("facebook profile fetch failed: %v", err)
	}
	return CallbackResult{Success: true, Account: account, Token: token}
}

// RefreshAccessToken re-exchanges the stored long-lived token. The caller
// passes that token as the refresh credential.
func (c *FacebookClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*social.Token, error) {
	token, err := c.exchangeLongLived(ctx, refreshToken)
	if err != nil || token == nil || token.AccessToken == "" {
		return nil, nil
	}
	return token, nil
}

func (c *FacebookClient) exchangeLongLived(ctx context.Context, accessToken string) (*social.Token, error) {
	data := url.Values{}
	data.Set("grant_type", "fb_exchange_token")
	data.Set("client_id", c.creds.ClientID)
	data.Set("client_secret", c.creds.ClientSecret)
	data.Set("fb_exchange_token", accessToken)

	raw, err := postForm(ctx, c.httpClient, c.endpoints.TokenURL, data, "", "")
	if err != nil {
		return nil, err
	}
	return tokenFromResponse(raw), nil
}

func (c *FacebookClient) fetchProfile(ctx context.Context, accessToken string) (*social.ProviderAccount, error) {
	profileURL := c.endpoints.ProfileURL + "?fields=" + url.QueryEscape("id,name,picture")
	raw, err := getJSON(ctx, c.httpClient, profileURL, accessToken)
	if err != nil {
		return nil, err
	}
	id := stringValue(raw["id"])
	if id == "" {
		return nil, fmt.Errorf("profile missing user id")
	}

	var avatar string
	if picture := nestedMap(raw, "picture", "data"); picture != nil {
		avatar = stringValue(picture["url"])
	}
	name := stringValue(raw["name"])

	return &social.ProviderAccount{
		PlatformUserID: id,
		Username:       name,
		DisplayName:    name,
		AvatarURL:      avatar,
		Permissions:    strings.Split(facebookScopes, ","),
	}, nil
}
