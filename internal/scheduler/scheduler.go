// Package scheduler keeps linked-account access tokens valid indefinitely.
// It owns one in-memory timer per active refreshable account, firing a
// safety margin before expiry, persisting the refreshed tokens, and
// re-arming itself. Arm and Cancel are the only mutations and both are
// atomic with respect to a concurrent fire.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/audit"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/platform"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/repository"
)

const (
	// DefaultLeadTime is how long before token expiry a refresh fires,
	// tolerating clock drift and provider latency.
	DefaultLeadTime = 5 * time.Minute

	defaultMinDelay  = 10 * time.Second
	refreshTimeout   = 30 * time.Second
	fallbackTokenTTL = time.Hour
)

// ClientSource maps a platform to its OAuth client.
type ClientSource interface {
	Get(platform social.Platform) (platform.Client, error)
}

// Scheduler is the process-wide refresh timer registry.
type Scheduler struct {
	accounts repository.LinkedAccountRepository
	clients  ClientSource
	audit    audit.Sink
	logger   *zap.Logger
	lead     time.Duration
	minDelay time.Duration

	mu      sync.Mutex
	entries map[int64]*entry
	nextGen uint64
	closed  bool
}

type entry struct {
	timer      *time.Timer
	generation uint64
	platform   social.Platform
}

// New constructs the scheduler. One instance exists per process.
func New(accounts repository.LinkedAccountRepository, clients ClientSource, sink audit.Sink, logger *zap.Logger, lead time.Duration) *Scheduler {
	if lead <= 0 {
		lead = DefaultLeadTime
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Scheduler{
		accounts: accounts,
		clients:  clients,
		audit:    sink,
		logger:   logger,
		lead:     lead,
		minDelay: defaultMinDelay,
		entries:  make(map[int64]*entry),
	}
}

// Arm schedules a refresh for the account shortly before expiresAt,
// replacing any existing timer for the same account.
func (s *Scheduler) Arm(accountID int64, p social.Platform, expiresAt time.Time) {
	delay := time.Until(expiresAt.Add(-s.lead))
	if delay < s.minDelay {
		delay = s.minDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if existing, ok := s.entries[accountID]; ok {
		existing.timer.Stop()
	}
	s.nextGen++
	generation := s.nextGen
	s.entries[accountID] = &entry{
		timer:      time.AfterFunc(delay, func() { s.fire(accountID, generation) }),
		generation: generation,
		platform:   p,
	}
	s.logger.Debug("refresh timer armed",
		zap.Int64("account_id", accountID),
		zap.String("platform", string(p)),
		zap.Duration("delay", delay),
	)
}

// Cancel stops and removes the account's timer. Disconnecting an account
// must call this or the timer would fire against a deactivated record.
func (s *Scheduler) Cancel(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[accountID]; ok {
		existing.timer.Stop()
		delete(s.entries, accountID)
	}
}

// Armed reports whether the account currently has a timer.
func (s *Scheduler) Armed(accountID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[accountID]
	return ok
}

// Rehydrate arms timers for every active refreshable account, restoring the
// refresh chain after a restart.
func (s *Scheduler) Rehydrate(ctx context.Context) error {
	accounts, err := s.accounts.ListRefreshable(ctx)
	if err != nil {
		return fmt.Errorf("list refreshable accounts: %w", err)
	}
	for _, account := range accounts {
		s.Arm(account.ID, account.Platform, account.TokenExpiresAt)
	}
	s.logger.Info("refresh scheduler rehydrated", zap.Int("accounts", len(accounts)))
	return nil
}

// Close cancels every timer and rejects further arming.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
}

// fire runs when a timer elapses. The generation check under the registry
// mutex resolves the race with Cancel: a cancelled or re-armed entry no
// longer matches and the fire becomes a no-op.
func (s *Scheduler) fire(accountID int64, generation uint64) {
	s.mu.Lock()
	current, ok := s.entries[accountID]
	if !ok || current.generation != generation {
		s.mu.Unlock()
		return
	}
	delete(s.entries, accountID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	s.refresh(ctx, accountID)
}

func (s *Scheduler) refresh(ctx context.Context, accountID int64) {
	log := s.logger.With(zap.Int64("account_id", accountID))

	// Always load the persisted credential; a manual refresh or disconnect
	// may have changed it since this timer was armed.
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, social.ErrAccountNotFound) {
			log.Debug("refresh skipped, account gone")
			return
		}
		log.Warn("refresh aborted, account load failed", zap.Error(err))
		return
	}
	if !account.IsActive || !account.Refreshable() {
		log.Debug("refresh skipped, account inactive or not refreshable")
		return
	}

	client, err := s.clients.Get(account.Platform)
	if err != nil {
		log.Error("refresh aborted, platform misconfigured", zap.Error(err))
		return
	}

	token, err := client.RefreshAccessToken(ctx, *account.RefreshToken)
	if err != nil || token == nil {
		// Terminal for this account: the grant is expired or revoked and
		// retrying with the same credential cannot succeed. The end user
		// has to re-authorize.
		s.recordRefresh(account, false, "provider rejected refresh token")
		log.Warn("refresh failed, stopping schedule for account",
			zap.String("platform", string(account.Platform)),
			zap.Error(err),
		)
		return
	}

	refreshCred := social.RefreshCredential(account.Platform, *token)
	if refreshCred == nil {
		refreshCred = account.RefreshToken
	}
	expiresAt := tokenExpiry(*token)

	if err := s.accounts.UpdateTokens(ctx, account.ID, token.AccessToken, refreshCred, expiresAt); err != nil {
		if errors.Is(err, social.ErrAccountNotFound) {
			// The account was disconnected while the refresh was in flight;
			// the result is discarded.
			log.Debug("refresh result discarded, account deactivated")
			return
		}
		s.recordRefresh(account, false, "failed to persist refreshed tokens")
		log.Error("refresh persisted nothing", zap.Error(err))
		return
	}

	s.recordRefresh(account, true, "")
	s.Arm(account.ID, account.Platform, expiresAt)
}

func (s *Scheduler) recordRefresh(account social.LinkedAccount, success bool, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(social.AuditEvent{
		UserID:         account.UserID,
		OrganizationID: account.OrganizationID,
		Platform:       account.Platform,
		Action:         social.AuditRefresh,
		Success:        success,
		Error:          detail,
	})
}

func tokenExpiry(token social.Token) time.Time {
	if token.ExpiresIn > 0 {
		return time.Now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return time.Now().UTC().Add(fallbackTokenTTL)
}
