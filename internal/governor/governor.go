// Package governor implements the cost-based rate governor that paces every
// platform mutation the pipeline performs. It keeps a rolling cost ledger
// over a fixed window, derives a 0–100 pressure score from it, tracks
// per-route 429 buckets, and escalates into emergency mode when a route
// keeps hitting rate limits. The decision engine consults CanProceed before
// approving an intent; executors report back through RecordAction and
// RecordRateLimitHit.
package governor

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/keys"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// Config tunes the governor. Zero values are replaced by defaults.
type Config struct {
	Window            time.Duration // rolling ledger window
	MaxCostPerWindow  float64       // cost sum mapping to pressure 100
	WarnThreshold     float64       // pressure above which delays scale up
	CriticalThreshold float64       // pressure treated as system-unhealthy
	BaseDelay         time.Duration // minimum pacing delay per approval
	CreateBoost       float64       // extra delay factor for channel creation
	MaxBackoff        time.Duration // cap on any computed delay
	EmergencyDuration time.Duration // how long emergency mode stays active
	ConsecutiveLimit  int           // 429s in a row that trip emergency mode
	RetryCostFactor   float64       // ledger weight of retried operations
	BucketIdleGC      time.Duration // idle time before a route bucket is dropped
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.MaxCostPerWindow <= 0 {
		c.MaxCostPerWindow = 120
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = 70
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 90
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.CreateBoost <= 0 {
		c.CreateBoost = 2
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.EmergencyDuration <= 0 {
		c.EmergencyDuration = 30 * time.Second
	}
	if c.ConsecutiveLimit <= 0 {
		c.ConsecutiveLimit = 5
	}
	if c.RetryCostFactor <= 0 {
		c.RetryCostFactor = 0.5
	}
	if c.BucketIdleGC <= 0 {
		c.BucketIdleGC = 5 * time.Minute
	}
	return c
}

type ledgerEntry struct {
	at   time.Time
	cost float64
}

type routeBucket struct {
	exhaustedUntil time.Time
	consecutive    int
	lastSeen       time.Time
}

// Governor tracks rate-limit pressure and decides pacing delays.
// Safe for concurrent use.
type Governor struct {
	cfg   Config
	store *state.Store
	log   zerolog.Logger

	mu             sync.Mutex
	ledger         []ledgerEntry
	pressure       float64
	buckets        map[string]*routeBucket
	globalUntil    time.Time
	emergencyUntil time.Time
	rng            *rand.Rand
}

// New builds a governor writing its pressure and breaker flags into store.
func New(cfg Config, store *state.Store, log zerolog.Logger) *Governor {
	return &Governor{
		cfg:     cfg.withDefaults(),
		store:   store,
		log:     log.With().Str("component", "governor").Logger(),
		buckets: make(map[string]*routeBucket),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pressure returns the current 0–100 pressure score.
func (g *Governor) Pressure() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(time.Now())
	return g.pressure
}

// EmergencyActive reports whether emergency mode is currently engaged.
func (g *Governor) EmergencyActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Now().Before(g.emergencyUntil)
}

// CanProceed decides whether an action may be dispatched now and, if so,
// how long dispatch should be delayed. Immediate priority always proceeds
// with zero delay. When blocked (emergency mode, global 429, or an exhausted
// route bucket) the returned delay is the remaining cooldown.
func (g *Governor) CanProceed(action intent.Action, p intent.Priority) (bool, time.Duration) {
	if p == intent.PriorityImmediate {
		return true, 0
	}

	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(now)

	if now.Before(g.globalUntil) {
		return false, g.globalUntil.Sub(now)
	}
	if now.Before(g.emergencyUntil) {
		return false, g.emergencyUntil.Sub(now)
	}
	if b, ok := g.buckets[keys.Route(action)]; ok && now.Before(b.exhaustedUntil) {
		return false, b.exhaustedUntil.Sub(now)
	}

	delay := float64(g.cfg.BaseDelay)
	if action == intent.ActionCreateChannel {
		delay *= g.cfg.CreateBoost
	}
	if g.pressure > g.cfg.WarnThreshold {
		delay *= 1 + (g.pressure-g.cfg.WarnThreshold)/(100-g.cfg.WarnThreshold)
	}
	delay *= 1 + 0.5*float64(p)
	// Small random jitter keeps synchronized callers from thundering.
	delay *= 0.9 + 0.2*g.rng.Float64()
	if d := time.Duration(delay); d > g.cfg.MaxBackoff {
		return true, g.cfg.MaxBackoff
	}
	return true, time.Duration(delay)
}

// RecordAction appends a completed operation's cost to the ledger and
// recomputes pressure. Retried operations contribute at the reduced retry
// factor so the ledger reflects real load without double-penalizing
// recovery. A successful call also resets the route's consecutive-429 count.
func (g *Governor) RecordAction(action intent.Action, cost float64, isRetry bool) {
	now := time.Now()
	if isRetry {
		cost *= g.cfg.RetryCostFactor
	}

	g.mu.Lock()
	g.ledger = append(g.ledger, ledgerEntry{at: now, cost: cost})
	g.pruneLocked(now)
	if b, ok := g.buckets[keys.Route(action)]; ok {
		b.consecutive = 0
		b.lastSeen = now
	}
	pressure := g.pressure
	g.mu.Unlock()

	g.publish(pressure)
}

// RecordRateLimitHit marks a route's bucket exhausted for retryAfter and, if
// the hit was global, suspends all non-immediate traffic system-wide for the
// same duration. Crossing the consecutive-hit limit trips emergency mode.
func (g *Governor) RecordRateLimitHit(route string, retryAfter time.Duration, global bool) {
	now := time.Now()

	g.mu.Lock()
	b, ok := g.buckets[route]
	if !ok {
		b = &routeBucket{}
		g.buckets[route] = b
	}
	b.exhaustedUntil = now.Add(retryAfter)
	b.consecutive++
	b.lastSeen = now
	if global {
		g.globalUntil = now.Add(retryAfter)
	}
	tripped := false
	if b.consecutive >= g.cfg.ConsecutiveLimit && now.After(g.emergencyUntil) {
		g.emergencyUntil = now.Add(g.cfg.EmergencyDuration)
		tripped = true
	}
	pressure := g.pressure
	g.mu.Unlock()

	if tripped {
		g.log.Warn().
			Str("route", route).
			Int("consecutive", g.cfg.ConsecutiveLimit).
			Dur("duration", g.cfg.EmergencyDuration).
			Msg("emergency mode activated")
	} else {
		g.log.Debug().
			Str("route", route).
			Dur("retry_after", retryAfter).
			Bool("global", global).
			Msg("rate limit hit recorded")
	}
	g.publish(pressure)
}

// Sweep garbage-collects idle route buckets. Called from the scheduler tick.
func (g *Governor) Sweep(now time.Time) {
	g.mu.Lock()
	for route, b := range g.buckets {
		if now.Sub(b.lastSeen) >= g.cfg.BucketIdleGC {
			delete(g.buckets, route)
		}
	}
	g.pruneLocked(now)
	pressure := g.pressure
	g.mu.Unlock()

	g.publish(pressure)
}

// pruneLocked drops ledger entries outside the window and recomputes
// pressure. Caller holds g.mu.
func (g *Governor) pruneLocked(now time.Time) {
	cutoff := now.Add(-g.cfg.Window)
	i := 0
	for ; i < len(g.ledger); i++ {
		if g.ledger[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		g.ledger = append(g.ledger[:0], g.ledger[i:]...)
	}
	var sum float64
	for _, e := range g.ledger {
		sum += e.cost
	}
	p := sum / g.cfg.MaxCostPerWindow * 100
	if p > 100 {
		p = 100
	}
	g.pressure = p
}

// publish mirrors the governor's view into the shared system state.
func (g *Governor) publish(pressure float64) {
	emergency := g.EmergencyActive()
	g.mu.Lock()
	global := time.Now().Before(g.globalUntil)
	g.mu.Unlock()

	g.store.UpdateSystem(func(sys *state.System) {
		sys.RatePressure = pressure
		sys.DefenseMode = pressure >= g.cfg.WarnThreshold || emergency
		sys.CircuitBreakerOpen = emergency || global || pressure >= g.cfg.CriticalThreshold
	})
}
