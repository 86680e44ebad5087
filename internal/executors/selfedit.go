// Package executors – self-edit suppression cache.
//
// Every platform mutation the pipeline performs comes back to the process as
// a gateway event. The event layer must be able to tell "the bot just did
// this" from "a human did this" or it would feed its own edits back into the
// pipeline forever. Executors mark each mutation here before issuing it;
// the event layer queries with IsSelfEdit. Entries expire on a short TTL so
// a crashed mutation cannot suppress a later genuine event.
package executors

import (
	"sync"
	"time"
)

// SelfEditCache is a short-TTL set of (channel, kind) marks. Safe for
// concurrent use.
type SelfEditCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
	lookups int
}

// NewSelfEditCache builds a cache; ttl <= 0 defaults to 5 seconds.
func NewSelfEditCache(ttl time.Duration) *SelfEditCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &SelfEditCache{ttl: ttl, entries: make(map[string]time.Time)}
}

// Mark records that the bot is about to mutate channelID in the given way
// ("edit", "delete", "permissions", ...).
func (c *SelfEditCache) Mark(channelID, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[channelID+":"+kind] = time.Now().Add(c.ttl)
}

// IsSelfEdit reports whether a matching unexpired mark exists, consuming it.
// Opportunistically sweeps expired entries every so often to bound memory.
func (c *SelfEditCache) IsSelfEdit(channelID, kind string) bool {
	now := time.Now()
	key := channelID + ":" + kind

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lookups++
	if c.lookups >= 1000 {
		for k, exp := range c.entries {
			if now.After(exp) {
				delete(c.entries, k)
			}
		}
		c.lookups = 0
	}

	exp, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	return now.Before(exp)
}
