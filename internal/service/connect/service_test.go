package connect

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/platform"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/statestore"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/statetoken"
)

// scriptedClient is a platform.Client double that records what the service
// hands it and answers from fixed fixtures.
type scriptedClient struct {
	mu sync.Mutex

	platform     social.Platform
	codeVerifier string // returned from GenerateAuthURL when set

	lastState    string
	lastCode     string
	lastVerifier string

	callbackResult platform.CallbackResult
	refreshToken   *social.Token
	refreshCalls   int
}

func (c *scriptedClient) Platform() social.Platform { return c.platform }

func (c *scriptedClient) GenerateAuthURL(state string) (*platform.AuthLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastState = state
	return &platform.AuthLink{
		URL:          "https://provider.example/authorize?state=" + state,
		CodeVerifier: c.codeVerifier,
	}, nil
}

func (c *scriptedClient) HandleCallback(_ context.Context, code, codeVerifier string) platform.CallbackResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCode = code
	c.lastVerifier = codeVerifier
	return c.callbackResult
}

func (c *scriptedClient) RefreshAccessToken(context.Context, string) (*social.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshCalls++
	if c.refreshToken == nil {
		return nil, nil
	}
	copied := *c.refreshToken
	return &copied, nil
}

type fakeClientSource struct {
	clients map[social.Platform]*scriptedClient
}

func (s *fakeClientSource) Get(p social.Platform) (platform.Client, error) {
	client, ok := s.clients[p]
	if !ok {
		return nil, social.ErrPlatformNotConfigured
	}
	return client, nil
}

// memoryAccountRepo mimics the database contract, including the upsert key
// on (platform, platform_user_id, organization_id) and the active-only token
// update guard.
type memoryAccountRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]social.LinkedAccount
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{nextID: 1, accounts: make(map[int64]social.LinkedAccount)}
}

func (r *memoryAccountRepo) Upsert(_ context.Context, account social.LinkedAccount) (social.LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range r.accounts {
		if existing.Platform == account.Platform &&
			existing.PlatformUserID == account.PlatformUserID &&
			existing.OrganizationID == account.OrganizationID {
			account.ID = id
			account.UserID = existing.UserID
			account.CreatedAt = existing.CreatedAt
			account.UpdatedAt = now
			r.accounts[id] = account
			return account, nil
		}
	}
	account.ID = r.nextID
	r.nextID++
	account.CreatedAt = now
	account.UpdatedAt = now
	r.accounts[account.ID] = account
	return account, nil
}

func (r *memoryAccountRepo) GetByID(_ context.Context, id int64) (social.LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return social.LinkedAccount{}, social.ErrAccountNotFound
	}
	return account, nil
}

func (r *memoryAccountRepo) ListActiveByOrg(_ context.Context, organizationID int64, p social.Platform) ([]social.LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []social.LinkedAccount
	for _, account := range r.accounts {
		if !account.IsActive || account.OrganizationID != organizationID {
			continue
		}
		if p != "" && account.Platform != p {
			continue
		}
		out = append(out, account)
	}
	return out, nil
}

func (r *memoryAccountRepo) ListRefreshable(context.Context) ([]social.LinkedAccount, error) {
	return nil, nil
}

func (r *memoryAccountRepo) UpdateTokens(_ context.Context, id int64, accessToken string, refreshToken *string, expiresAt time.Time) error {
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

func (r *memoryAccountRepo) Deactivate(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok || !account.IsActive {
		return social.ErrAccountNotFound
	}
	account.IsActive = false
	account.AccessToken = ""
	account.RefreshToken = nil
	r.accounts[id] = account
	return nil
}

func (r *memoryAccountRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

type fakeTimers struct {
	mu        sync.Mutex
	armed     map[int64]time.Time
	cancelled []int64
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{armed: make(map[int64]time.Time)}
}

func (t *fakeTimers) Arm(accountID int64, _ social.Platform, expiresAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed[accountID] = expiresAt
}

func (t *fakeTimers) Cancel(accountID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.armed, accountID)
	t.cancelled = append(t.cancelled, accountID)
}

func (t *fakeTimers) isArmed(accountID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.armed[accountID]
	return ok
}

type memorySink struct {
	mu     sync.Mutex
	events []social.AuditEvent
}

func (s *memorySink) Record(event social.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *memorySink) byAction(action social.AuditAction) []social.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []social.AuditEvent
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	service *Service
	issuer  *statetoken.Issuer
	states  *statestore.Memory
	repo    *memoryAccountRepo
	timers  *fakeTimers
	sink    *memorySink
	clients map[social.Platform]*scriptedClient
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	issuer, err := statetoken.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), 10*time.Minute)
	require.NoError(t, err)

	refresh := "li-refresh-1"
	clients := map[social.Platform]*scriptedClient{
		social.PlatformLinkedIn: {
			platform: social.PlatformLinkedIn,
			callbackResult: platform.CallbackResult{
				Success: true,
				Account: &social.ProviderAccount{PlatformUserID: "li_42", Username: "pat", DisplayName: "Pat Q"},
				Token:   &social.Token{AccessToken: "li-access-1", RefreshToken: &refresh, ExpiresIn: 3600},
			},
			refreshToken: &social.Token{AccessToken: "li-access-2", RefreshToken: &refresh, ExpiresIn: 3600},
		},
		social.PlatformTwitter: {
			platform:     social.PlatformTwitter,
			codeVerifier: "verifier-123",
			callbackResult: platform.CallbackResult{
				Success: true,
				Account: &social.ProviderAccount{PlatformUserID: "tw_9", Username: "pat_tw"},
				Token:   &social.Token{AccessToken: "tw-access-1", RefreshToken: &refresh, ExpiresIn: 7200},
			},
		},
	}

	h := &harness{
		issuer:  issuer,
		states:  statestore.NewMemory(),
		repo:    newMemoryAccountRepo(),
		timers:  newFakeTimers(),
		sink:    &memorySink{},
		clients: clients,
	}
	h.service = New(
		issuer,
		h.states,
		&fakeClientSource{clients: clients},
		h.repo,
		h.timers,
		h.sink,
		10*time.Minute,
		zap.NewNop(),
	)
	return h
}

func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()
	_, state, ok := strings.Cut(authURL, "state=")
	require.True(t, ok, "auth url carries no state")
	return state
}

var owner = Principal{UserID: 7, OrganizationID: 11}

func TestConnect_LinkedInEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	account, err := h.service.HandleCallback(ctx, "linkedin", state, "code-abc", "", RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, social.PlatformLinkedIn, account.Platform)
	require.Equal(t, "li_42", account.PlatformUserID)
	require.Equal(t, owner.UserID, account.UserID)
	require.Equal(t, owner.OrganizationID, account.OrganizationID)
	require.True(t, account.IsActive)
	require.Equal(t, 1, h.repo.count())
	require.True(t, h.timers.isArmed(account.ID))

	require.Equal(t, "code-abc", h.clients[social.PlatformLinkedIn].lastCode)

	require.Len(t, h.sink.byAction(social.AuditInitiate), 1)
	callbacks := h.sink.byAction(social.AuditCallback)
	require.Len(t, callbacks, 1)
	require.True(t, callbacks[0].Success)
}

func TestConnect_StateIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	_, err = h.service.HandleCallback(ctx, "linkedin", state, "code-abc", "", RequestMeta{})
	require.NoError(t, err)

	_, err = h.service.HandleCallback(ctx, "linkedin", state, "code-abc", "", RequestMeta{})
	require.ErrorIs(t, err, social.ErrInvalidState)
	require.Equal(t, 1, h.repo.count())

	// One audit event per attempt, the replay recorded as a failure.
	callbacks := h.sink.byAction(social.AuditCallback)
	require.Len(t, callbacks, 2)
	require.True(t, callbacks[0].Success)
	require.False(t, callbacks[1].Success)
}

func TestConnect_ForgedAndForeignStatesRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.HandleCallback(ctx, "linkedin", "not-a-real-state", "code", "", RequestMeta{})
	require.ErrorIs(t, err, social.ErrInvalidState)

	// A validly signed token whose stored context belongs to someone else
	// must not complete the flow.
	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	foreign, err := h.issuer.Generate(99, owner.OrganizationID)
	require.NoError(t, err)
	pending, err := h.states.Get(ctx, state)
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.NoError(t, h.states.Put(ctx, foreign, *pending, time.Minute))

	_, err = h.service.HandleCallback(ctx, "linkedin", foreign, "code", "", RequestMeta{})
	require.ErrorIs(t, err, social.ErrInvalidState)
	require.Zero(t, h.repo.count())
}

func TestConnect_PlatformMismatchRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	_, err = h.service.HandleCallback(ctx, "twitter", state, "code", "", RequestMeta{})
	require.ErrorIs(t, err, social.ErrInvalidState)
}

func TestConnect_ProviderDenialIsNotAStateError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	_, err = h.service.HandleCallback(ctx, "linkedin", state, "", "access_denied", RequestMeta{})
	require.ErrorIs(t, err, social.ErrProviderRejected)
	require.Zero(t, h.repo.count())

	callbacks := h.sink.byAction(social.AuditCallback)
	require.Len(t, callbacks, 1)
	require.False(t, callbacks[0].Success)
	require.Contains(t, callbacks[0].Error, "access_denied")
}

func TestConnect_PKCEVerifierCarriedThroughStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "twitter", RequestMeta{})
	require.NoError(t, err)
	require.NotContains(t, authURL, "verifier-123")
	state := stateFromURL(t, authURL)

	_, err = h.service.HandleCallback(ctx, "twitter", state, "code-tw", "", RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, "verifier-123", h.clients[social.PlatformTwitter].lastVerifier)
}

func TestConnect_TwitterWithoutVerifierFailsClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state, err := h.issuer.Generate(owner.UserID, owner.OrganizationID)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, h.states.Put(ctx, state, social.PendingAuthorization{
		UserID:         owner.UserID,
		OrganizationID: owner.OrganizationID,
		Platform:       social.PlatformTwitter,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Minute),
	}, time.Minute))

	_, err = h.service.HandleCallback(ctx, "twitter", state, "code", "", RequestMeta{})
	require.ErrorIs(t, err, social.ErrInvalidState)
}

func TestConnect_RelinkUpsertsExistingAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	first, err := h.service.HandleCallback(ctx, "linkedin", stateFromURL(t, authURL), "code-1", "", RequestMeta{})
	require.NoError(t, err)

	authURL, err = h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	second, err := h.service.HandleCallback(ctx, "linkedin", stateFromURL(t, authURL), "code-2", "", RequestMeta{})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, h.repo.count())
}

func TestConnect_UnknownAndUnconfiguredPlatforms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.Initiate(ctx, owner, "myspace", RequestMeta{})
	require.ErrorIs(t, err, social.ErrUnsupportedPlatform)

	_, err = h.service.Initiate(ctx, owner, "facebook", RequestMeta{})
	require.ErrorIs(t, err, social.ErrPlatformNotConfigured)
}

func TestConnect_ManualRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	account, err := h.service.HandleCallback(ctx, "linkedin", stateFromURL(t, authURL), "code", "", RequestMeta{})
	require.NoError(t, err)

	refreshed, err := h.service.Refresh(ctx, owner, account.ID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, "li-access-2", refreshed.AccessToken)
	require.True(t, h.timers.isArmed(account.ID))

	events := h.sink.byAction(social.AuditRefresh)
	require.Len(t, events, 1)
	require.True(t, events[0].Success)
}

func TestConnect_RefreshRejectionIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	account, err := h.service.HandleCallback(ctx, "linkedin", stateFromURL(t, authURL), "code", "", RequestMeta{})
	require.NoError(t, err)

	h.clients[social.PlatformLinkedIn].refreshToken = nil
	_, err = h.service.Refresh(ctx, owner, account.ID, RequestMeta{})
	require.ErrorIs(t, err, social.ErrRefreshFailed)
	require.False(t, h.timers.isArmed(account.ID))

	// The stored credential is untouched; only re-authorization recovers.
	stored, err := h.repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, "li-access-1", stored.AccessToken)
}

// TestConnect_RefreshAuditsActingUser: any member of the owning organization
// may refresh, and the audit row names the caller, not the original linker.
func TestConnect_RefreshAuditsActingUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	account, err := h.service.HandleCallback(ctx, "linkedin", stateFromURL(t, authURL), "code", "", RequestMeta{})
	require.NoError(t, err)

	teammate := Principal{UserID: 8, OrganizationID: owner.OrganizationID}
	_, err = h.service.Refresh(ctx, teammate, account.ID, RequestMeta{})
	require.NoError(t, err)

	events := h.sink.byAction(social.AuditRefresh)
	require.Len(t, events, 1)
	require.Equal(t, teammate.UserID, events[0].UserID)
}

func TestConnect_CallbackWithoutTokenOrProfileFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.clients[social.PlatformLinkedIn].callbackResult = platform.CallbackResult{Success: true}

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	_, err = h.service.HandleCallback(ctx, "linkedin", stateFromURL(t, authURL), "code", "", RequestMeta{})
	require.Error(t, err)
	require.Zero(t, h.repo.count())
}

func TestConnect_RefreshDeniedOutsideOrganization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	account, err := h.service.HandleCallback(ctx, "linkedin", stateFromURL(t, authURL), "code", "", RequestMeta{})
	require.NoError(t, err)

	outsider := Principal{UserID: 50, OrganizationID: 99}
	_, err = h.service.Refresh(ctx, outsider, account.ID, RequestMeta{})
	require.ErrorIs(t, err, social.ErrAccountNotFound)
}

func TestConnect_StatusCarriesNoTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	_, err = h.service.HandleCallback(ctx, "linkedin", stateFromURL(t, authURL), "code", "", RequestMeta{})
	require.NoError(t, err)

	statuses, err := h.service.Status(ctx, owner, "")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, "pat", statuses[0].Username)
	require.True(t, statuses[0].Refreshable)

	filtered, err := h.service.Status(ctx, owner, "twitter")
	require.NoError(t, err)
	require.Empty(t, filtered)

	_, err = h.service.Status(ctx, owner, "friendster")
	require.ErrorIs(t, err, social.ErrUnsupportedPlatform)
}

func TestConnect_Disconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authURL, err := h.service.Initiate(ctx, owner, "linkedin", RequestMeta{})
	require.NoError(t, err)
	account, err := h.service.HandleCallback(ctx, "linkedin", stateFromURL(t, authURL), "code", "", RequestMeta{})
	require.NoError(t, err)

	require.NoError(t, h.service.Disconnect(ctx, owner, account.ID))
	require.False(t, h.timers.isArmed(account.ID))

	stored, err := h.repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)
	require.Empty(t, stored.AccessToken)

	// Disconnecting again reports the account as gone.
	require.ErrorIs(t, h.service.Disconnect(ctx, owner, account.ID), social.ErrAccountNotFound)
}
