// Package lock provides named, time-bounded mutual-exclusion locks with
// holder identity. Acquisition is non-blocking: a caller that loses the race
// re-admits its intent through the queue instead of waiting. Every lock
// carries a duration, so a crashed holder's lock self-expires and the
// resource is never starved permanently.
package lock

import (
	"sync"
	"time"
)

type entry struct {
	holderID  string
	purpose   string
	expiresAt time.Time
}

// Manager is a table of named TTL locks. Safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	locks map[string]entry
}

// NewManager returns an empty lock table.
func NewManager() *Manager {
	return &Manager{locks: make(map[string]entry)}
}

// Acquire takes the lock for key on behalf of holderID for duration d.
// It succeeds if the lock is unheld, expired, or already held by the same
// holder (re-entrant refresh). It never blocks.
func (m *Manager) Acquire(key, holderID string, d time.Duration, purpose string) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.locks[key]; ok && now.Before(e.expiresAt) && e.holderID != holderID {
		return false
	}
	m.locks[key] = entry{holderID: holderID, purpose: purpose, expiresAt: now.Add(d)}
	return true
}

// Release frees the lock if holderID is the current holder; otherwise no-op.
func (m *Manager) Release(key, holderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.locks[key]; ok && e.holderID == holderID {
		delete(m.locks, key)
	}
}

// Holder returns the current holder of key, or "" if unheld or expired.
func (m *Manager) Holder(key string) string {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok || now.After(e.expiresAt) {
		return ""
	}
	return e.holderID
}

// IsLocked reports whether key is currently held.
func (m *Manager) IsLocked(key string) bool {
	return m.Holder(key) != ""
}

// Sweep drops expired entries to bound table growth. Called periodically by
// the scheduler tick.
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.locks {
		if now.After(e.expiresAt) {
			delete(m.locks, k)
		}
	}
}
