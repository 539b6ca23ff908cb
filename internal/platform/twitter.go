package platform

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/config"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
)

const twitterScopes = "tweet.read tweet.write users.read offline.access"

// TwitterClient implements the PKCE-based Twitter OAuth2 flow. Twitter is the
// only supported platform that mandates PKCE and authenticates the token
// endpoint with HTTP Basic credentials.
type TwitterClient struct {
	creds      config.PlatformCredentials
	endpoints  Endpoints
	httpClient *http.Client
}

var _ Client = (*TwitterClient)(nil)

// NewTwitterClient constructs the Twitter client. Endpoints with empty
// fields fall back to the production defaults.
func NewTwitterClient(creds config.PlatformCredentials, endpoints Endpoints, timeout time.Duration) *TwitterClient {
	if endpoints.AuthURL == "" {
		endpoints.AuthURL = "https://twitter.com/i/oauth2/authorize"
	}
	if endpoints.TokenURL == "" {
		endpoints.TokenURL = "https://api.twitter.com/2/oauth2/token"
	}
	if endpoints.ProfileURL == "" {
		endpoints.ProfileURL = "https://api.twitter.com/2/users/me"
	}
	return &TwitterClient{creds: creds, endpoints: endpoints, httpClient: newHTTPClient(timeout)}
}

func (c *TwitterClient) Platform() social.Platform {
	return social.PlatformTwitter
}

// GenerateAuthURL returns the authorization URL together with a fresh PKCE
// verifier. Only the derived S256 challenge is placed in the URL.
func (c *TwitterClient) GenerateAuthURL(state string) (*AuthLink, error) {
	verifier, challenge, err := generatePKCEPair()
	if err != nil {
		return nil, fmt.Errorf("twitter: generate pkce pair: %w", err)
	}

	authURL, err := url.Parse(c.endpoints.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("twitter: parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("response_type", "code")
	params.Set("client_id", c.creds.ClientID)
	params.Set("redirect_uri", c.creds.RedirectURI)
	params.Set("scope", twitterScopes)
	params.Set("state", state)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")
	authURL.RawQuery = params.Encode()

	return &AuthLink{URL: authURL.String(), CodeVerifier: verifier}, nil
}

// HandleCallback exchanges the code (bound to its PKCE verifier) and loads
// the authenticated user's profile.
func (c *TwitterClient) HandleCallback(ctx context.Context, code, codeVerifier string) CallbackResult {
	if strings.TrimSpace(codeVerifier) == "" {
		// The verifier was minted at initiate time; its absence means the
		// pending authorization was lost or corrupted. Never fall back to a
		// non-PKCE exchange.
		return callbackFailure("missing PKCE code verifier")
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.creds.RedirectURI)
	data.Set("client_id", c.creds.ClientID)
	data.Set("code_verifier", codeVerifier)

	raw, err := postForm(ctx, c.httpClient, c.endpoints.TokenURL, data, c.creds.ClientID, c.creds.ClientSecret)
	if err != nil {
		return callbackFailure("twitter token exchange failed: %v", err)
	}
	token := tokenFromResponse(raw)
	if token.AccessToken == "" {
		return callbackFailure("twitter token exchange returned no access token")
	}

	account, err := c.fetchProfile(ctx, token.AccessToken)
	if err != nil {
		return callbackFailure("twitter profile fetch failed: %v", err)
	}
	return CallbackResult{Success: true, Account: account, Token: token}
}

// RefreshAccessToken uses the refresh grant. Twitter rotates the refresh
// token on every use.
func (c *TwitterClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*social.Token, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.creds.ClientID)

	raw, err := postForm(ctx, c.httpClient, c.endpoints.TokenURL, data, c.creds.ClientID, c.creds.ClientSecret)
	if err != nil {
		return nil, nil
	}
	token := tokenFromResponse(raw)
	if token.AccessToken == "" {
		return nil, nil
	}
	return token, nil
}

func (c *TwitterClient) fetchProfile(ctx context.Context, accessToken string) (*social.ProviderAccount, error) {
	profileURL := c.endpoints.ProfileURL + "?user.fields=profile_image_url"
	raw, err := getJSON(ctx, c.httpClient, profileURL, accessToken)
	if err != nil {
		return nil, err
	}
	data := nestedMap(raw, "data")
	if data == nil {
		return nil, fmt.Errorf("unexpected profile shape")
	}
	id := stringValue(data["id"])
	if id == "" {
		return nil, fmt.Errorf("profile missing user id")
	}
	return &social.ProviderAccount{
		PlatformUserID: id,
		Username:       stringValue(data["username"]),
		DisplayName:    stringValue(data["name"]),
		AvatarURL:      stringValue(data["profile_image_url"]),
		Permissions:    strings.Fields(twitterScopes),
	}, nil
}

func generatePKCEPair() (verifier, challenge string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
