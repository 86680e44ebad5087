// Package executors – per-user creation cooldown.
//
// Channel creation is the platform's most expensive rate-limited call, so
// each user gets a token bucket spacing their creations out. Buckets are
// created on demand and idle ones are evicted opportunistically, the same
// shape as the HTTP layer's per-identity limiter.
package executors

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type cooldownEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type cooldownTable struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*cooldownEntry
	lookups int
}

func newCooldownTable(limit rate.Limit, burst int) *cooldownTable {
	if burst <= 0 {
		burst = 1
	}
	return &cooldownTable{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*cooldownEntry),
	}
}

// allow reports whether userID may create a channel now, consuming a token
// if so.
func (t *cooldownTable) allow(userID string) bool {
	now := time.Now()

	t.mu.Lock()
	t.lookups++
	if t.lookups >= 1000 {
		for k, e := range t.entries {
			if now.Sub(e.lastSeen) >= 10*time.Minute {
				delete(t.entries, k)
			}
		}
		t.lookups = 0
	}

	e, ok := t.entries[userID]
	if !ok {
		e = &cooldownEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[userID] = e
	}
	e.lastSeen = now
	lim := e.limiter
	t.mu.Unlock()

	return lim.Allow()
}
