package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/config"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
	httptransport "github.com/charlykso/vibe-tribe-backend-sub004/internal/http"
	httpHandler "github.com/charlykso/vibe-tribe-backend-sub004/internal/http/handler"
	httpmiddleware "github.com/charlykso/vibe-tribe-backend-sub004/internal/http/middleware"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/jwt"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/platform"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/service/connect"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/statestore"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/statetoken"
)

var sessionSecret = []byte("0123456789abcdef0123456789abcdef")

type stubClient struct{}

func (stubClient) Platform() social.Platform { return social.PlatformLinkedIn }

func (stubClient) GenerateAuthURL(state string) (*platform.AuthLink, error) {
	return &platform.AuthLink{URL: "https://provider.example/authorize?state=" + state}, nil
}

func (stubClient) HandleCallback(context.Context, string, string) platform.CallbackResult {
	refresh := "refresh-secret"
	return platform.CallbackResult{
		Success: true,
		Account: &social.ProviderAccount{PlatformUserID: "li_42", Username: "pat"},
		Token:   &social.Token{AccessToken: "access-secret", RefreshToken: &refresh, ExpiresIn: 3600},
	}
}

func (stubClient) RefreshAccessToken(context.Context, string) (*social.Token, error) {
	return &social.Token{AccessToken: "access-secret-2", ExpiresIn: 3600}, nil
}

type stubClientSource struct{}

func (stubClientSource) Get(p social.Platform) (platform.Client, error) {
	if p != social.PlatformLinkedIn {
		return nil, social.ErrPlatformNotConfigured
	}
	return stubClient{}, nil
}

type stubRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]social.LinkedAccount
}

func newStubRepo() *stubRepo {
	return &stubRepo{nextID: 1, accounts: make(map[int64]social.LinkedAccount)}
}

func (r *stubRepo) Upsert(_ context.Context, account social.LinkedAccount) (social.LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.accounts {
		if existing.Platform == account.Platform &&
			existing.PlatformUserID == account.PlatformUserID &&
			existing.OrganizationID == account.OrganizationID {
			account.ID = id
			r.accounts[id] = account
			return account, nil
		}
	}
	account.ID = r.nextID
	r.nextID++
	r.accounts[account.ID] = account
	return account, nil
}

func (r *stubRepo) GetByID(_ context.Context, id int64) (social.LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return social.LinkedAccount{}, social.ErrAccountNotFound
	}
	return account, nil
}

func (r *stubRepo) ListActiveByOrg(_ context.Context, organizationID int64, p social.Platform) ([]social.LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []social.LinkedAccount
	for _, account := range r.accounts {
		if account.IsActive && account.OrganizationID == organizationID && (p == "" || account.Platform == p) {
			out = append(out, account)
		}
	}
	return out, nil
}

func (r *stubRepo) ListRefreshable(context.Context) ([]social.LinkedAccount, error) {
	return nil, nil
}

func (r *stubRepo) UpdateTokens(_ context.Context, id int64, accessToken string, refreshToken *string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok || !account.IsActive {
		return social.ErrAccountNotFound
	}
	account.AccessToken = accessToken
	account.RefreshToken = refreshToken
	account.TokenExpiresAt = expiresAt
	r.accounts[id] = account
	return nil
}

func (r *stubRepo) Deactivate(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok || !account.IsActive {
		return social.ErrAccountNotFound
	}
	account.IsActive = false
	r.accounts[id] = account
	return nil
}

type stubTimers struct{}

func (stubTimers) Arm(int64, social.Platform, time.Time) {}
func (stubTimers) Cancel(int64)                          {}

func testConfig() config.Config {
	return config.Config{
		ServiceName:        "integrations-test",
		SuccessRedirectURL: "http://localhost:3000/integrations/connected",
		FailureRedirectURL: "http://localhost:3000/integrations/failed",
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Authorization", "Content-Type"},
	}
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer, err := statetoken.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), 10*time.Minute)
	require.NoError(t, err)
	verifier, err := jwt.NewVerifier(sessionSecret)
	require.NoError(t, err)

	cfg := testConfig()
	service := connect.New(issuer, statestore.NewMemory(), stubClientSource{}, newStubRepo(), stubTimers{}, nil, 10*time.Minute, zap.NewNop())
	connectHandler := httpHandler.NewConnectHandler(service, cfg, zap.NewNop())
	authMiddleware := &httpmiddleware.Auth{Verifier: verifier}

	return httptransport.NewRouter(cfg, connectHandler, authMiddleware, nil)
}

func sessionToken(t *testing.T, userID, orgID int64) string {
	t.Helper()
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: sessionSecret}, (&gojose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)
	now := time.Now()
	token, err := gojwt.Signed(signer).Claims(gojwt.Claims{
		Subject:  "session",
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(time.Hour)),
	}).Claims(map[string]any{"user_id": userID, "organization_id": orgID}).Serialize()
	require.NoError(t, err)
	return token
}

func doRequest(router *gin.Engine, method, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRoutesRequireSession(t *testing.T) {
	router := newTestRouter(t)

	for _, target := range []string{
		"/integrations/linkedin/connect",
		"/integrations/status",
	} {
		w := doRequest(router, http.MethodGet, target, "")
		require.Equal(t, http.StatusUnauthorized, w.Code, target)
	}

	w := doRequest(router, http.MethodPost, "/integrations/accounts/1/refresh", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = doRequest(router, http.MethodDelete, "/integrations/accounts/1", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConnectAndCallbackFlow(t *testing.T) {
	router := newTestRouter(t)
	token := sessionToken(t, 7, 11)

	w := doRequest(router, http.MethodGet, "/integrations/linkedin/connect", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "auth_url")

	var resp struct {
		AuthURL string `json:"auth_url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	parsed, err := url.Parse(resp.AuthURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	// Callback is unauthenticated; the browser arrives with no session.
	w = doRequest(router, http.MethodGet, "/integrations/linkedin/callback?code=abc&state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "http://localhost:3000/integrations/connected"))
	require.Contains(t, location, "platform=linkedin")
	require.Contains(t, location, "username=pat")
	require.NotContains(t, location, "access-secret")
	require.NotContains(t, location, "refresh-secret")

	w = doRequest(router, http.MethodGet, "/integrations/status", token)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "li_42")
	require.NotContains(t, body, "access-secret")
	require.NotContains(t, body, "refresh-secret")
}

func TestCallbackFailureRedirects(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/integrations/linkedin/callback?code=abc&state=forged", "")
	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "http://localhost:3000/integrations/failed"))
	require.Contains(t, location, "reason=invalid_state")

	w = doRequest(router, http.MethodGet, "/integrations/myspace/callback?code=abc&state=x", "")
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), "reason=unsupported_platform")
}

func TestBadAccountIDRejected(t *testing.T) {
	router := newTestRouter(t)
	token := sessionToken(t, 7, 11)

	w := doRequest(router, http.MethodPost, "/integrations/accounts/abc/refresh", token)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodDelete, "/integrations/accounts/999", token)
	require.Equal(t, http.StatusNotFound, w.Code)
}
