package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
)

// DefaultSweepInterval bounds growth for entries the store never read back.
const DefaultSweepInterval = 5 * time.Minute

// Memory is an in-process Store used in tests and single-node deployments.
// It has no native TTL, so a periodic sweep removes entries past ExpiresAt.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	pending   social.PendingAuthorization
	expiresAt time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory constructs an empty in-memory store. Call StartSweep to bound
// growth from abandoned flows; Close stops the sweep.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
}

// Put stores the pending authorization under key with the given TTL.
func (m *Memory) Put(_ context.Context, key string, pending social.PendingAuthorization, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{pending: pending, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get returns the entry, or (nil, nil) when absent or expired. Expired
// entries are removed on read.
func (m *Memory) Get(_ context.Context, key string) (*social.PendingAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	now := time.Now()
	if now.After(entry.expiresAt) || entry.pending.Expired(now) {
		delete(m.entries, key)
		return nil, nil
	}
	pending := entry.pending
	return &pending, nil
}

// Delete removes the entry. Deleting an absent key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// StartSweep launches the background loop removing expired entries.
func (m *Memory) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.removeExpired(time.Now())
			case <-m.done:
				return
			}
		}
	}()
}

// Close stops the sweep loop. Safe to call more than once.
func (m *Memory) Close() {
	m.once.Do(func() {
		close(m.done)
	})
}

func (m *Memory) removeExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) || entry.pending.Expired(now) {
			delete(m.entries, key)
		}
	}
}

// Len reports the number of live entries. Used by the sweep tests.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
