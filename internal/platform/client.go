// Package platform implements one OAuth client per supported social network
// behind a common interface, so call sites never branch on platform identity.
// Each client owns the normalization from its provider's profile shape to the
// common linked-account fields.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
)

const maxResponseBytes = 1 << 20

// AuthLink is a prepared provider authorization URL. CodeVerifier is set
// only for PKCE platforms and must be carried through the state store; it is
// never part of the URL itself.
type AuthLink struct {
	URL          string
	CodeVerifier string
}

// CallbackResult is the outcome of a code exchange plus profile fetch.
// Ordinary provider rejections are Success=false with a human-readable Err;
// they never propagate as Go errors across component boundaries.
type CallbackResult struct {
	Success bool
	Account *social.ProviderAccount
	Token   *social.Token
	Err     string
}

func callbackFailure(format string, args ...any) CallbackResult {
	return CallbackResult{Success: false, Err: fmt.Sprintf(format, args...)}
}

// Client is the per-provider OAuth capability surface.
type Client interface {
	Platform() social.Platform

	// GenerateAuthURL builds the provider authorization URL for the given
	// state. PKCE providers also return a fresh code verifier.
	GenerateAuthURL(state string) (*AuthLink, error)

	// HandleCallback exchanges the authorization code for tokens and fetches
	// the provider profile.
	HandleCallback(ctx context.Context, code, codeVerifier string) CallbackResult

	// RefreshAccessToken returns nil (with no error) when the provider
	// rejects the refresh, so callers decide policy. Errors are reserved for
	// transport-level failures.
	RefreshAccessToken(ctx context.Context, refreshToken string) (*social.Token, error)
}

// Endpoints carries the provider URLs. Defaults point at the real provider;
// tests override them with httptest doubles.
type Endpoints struct {
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postForm sends a form-encoded token request and decodes the JSON response.
// basicUser/basicPass, when set, are sent as HTTP Basic credentials.
func postForm(ctx context.Context, client *http.Client, endpoint string, data url.Values, basicUser, basicPass string) (map[string]any, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("token url missing")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, basicPass)
	}
	return doJSON(client, req)
}

// getJSON performs a GET with optional bearer auth and decodes the response.
func getJSON(ctx context.Context, client *http.Client, endpoint, bearer string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return doJSON(client, req)
}

func doJSON(client *http.Client, req *http.Request) (map[string]any, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return raw, nil
}

func tokenFromResponse(raw map[string]any) *social.Token {
	token := &social.Token{
		AccessToken: stringValue(raw["access_token"]),
		ExpiresIn:   int64Value(raw["expires_in"]),
	}
	if refresh := stringValue(raw["refresh_token"]); refresh != "" {
		token.RefreshToken = &refresh
	}
	return token
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func nestedMap(raw map[string]any, keys ...string) map[string]any {
	current := raw
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}
