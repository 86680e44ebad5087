// Package decision implements the admission decision engine: a pure
// evaluation of one intent against current system, guild, and resource
// state. Deciding never mutates anything: re-evaluating the same intent
// against unchanged state yields the same decision, so the scheduler is
// free to re-run it after a delay without side effects.
//
// Checks run in a fixed order; the first rejecting check wins, while
// approving checks accumulate delay. The order is part of the contract:
// expiry before policy, policy before capacity, capacity before locks,
// locks before per-channel state, and the rate governor always last.
package decision

import (
	"fmt"
	"time"

	"github.com/pkaralis/go-voice-backend/internal/governor"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/keys"
	"github.com/pkaralis/go-voice-backend/internal/lock"
	"github.com/pkaralis/go-voice-backend/internal/queue"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// Reason is the stable machine-readable cause attached to a decision.
type Reason string

const (
	ReasonApproved         Reason = "approved"
	ReasonExpired          Reason = "expired"
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonQueueFull        Reason = "queue_full"
	ReasonGuildPaused      Reason = "guild_paused"
	ReasonResourceLocked   Reason = "resource_locked"
	ReasonInvalidState     Reason = "invalid_state"
	ReasonDuplicate        Reason = "duplicate"
)

// Decision is the outcome of admitting one intent.
type Decision struct {
	Execute bool
	Reason  Reason
	Delay   time.Duration
	Notify  bool   // surface Message to the requesting user
	Message string // human-readable, safe to show to users
}

func reject(r Reason) Decision { return Decision{Reason: r} }

func rejectUser(r Reason, msg string) Decision {
	return Decision{Reason: r, Notify: true, Message: msg}
}

// Config tunes the engine's fixed delays and thresholds.
type Config struct {
	DefenseDelay      time.Duration // extra delay while defense mode is active
	RaidDelay         time.Duration // extra delay while a guild is in raid mode
	LockWait          time.Duration // short wait for critical intents behind a lock
	PendingOpDelay    time.Duration // delay while the channel has another op in flight
	EventThreshold    float64       // guild event pressure above which delays scale
	EventDelayPerUnit time.Duration // proportional event-pressure delay
	MaxEventDelay     time.Duration // cap on the proportional delay
	QueueRejectRatio  float64       // queue fill ratio that rejects low-priority work
}

func (c Config) withDefaults() Config {
	if c.DefenseDelay <= 0 {
		c.DefenseDelay = 2 * time.Second
	}
	if c.RaidDelay <= 0 {
		c.RaidDelay = 5 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 500 * time.Millisecond
	}
	if c.PendingOpDelay <= 0 {
		c.PendingOpDelay = 500 * time.Millisecond
	}
	if c.EventThreshold <= 0 {
		c.EventThreshold = 10
	}
	if c.EventDelayPerUnit <= 0 {
		c.EventDelayPerUnit = 100 * time.Millisecond
	}
	if c.MaxEventDelay <= 0 {
		c.MaxEventDelay = 5 * time.Second
	}
	if c.QueueRejectRatio <= 0 {
		c.QueueRejectRatio = 0.8
	}
	return c
}

// Engine evaluates intents against shared state. All dependencies are read,
// never written.
type Engine struct {
	cfg   Config
	store *state.Store
	gov   *governor.Governor
	locks *lock.Manager
	queue *queue.Queue
}

// NewEngine builds a decision engine over the shared pipeline state.
func NewEngine(cfg Config, store *state.Store, gov *governor.Governor, locks *lock.Manager, q *queue.Queue) *Engine {
	return &Engine{cfg: cfg.withDefaults(), store: store, gov: gov, locks: locks, queue: q}
}

// Decide evaluates one intent at time now.
func (e *Engine) Decide(in *intent.Intent, now time.Time) Decision {
	// 1. TTL.
	if in.Expired(now) {
		return reject(ReasonExpired)
	}

	// 2. Globally blocked requester.
	if in.Source.Kind == intent.SourceUser && in.Source.UserID != "" &&
		e.store.IsBlocked(in.GuildID, in.Source.UserID) {
		return rejectUser(ReasonPermissionDenied, "You are blocked from using voice channels in this server.")
	}

	var delay time.Duration

	// 3. System health.
	sys := e.store.System()
	if sys.CircuitBreakerOpen && in.Priority > intent.PriorityImmediate {
		return reject(ReasonRateLimited)
	}
	if sys.DefenseMode && in.Priority > intent.PriorityCritical {
		delay += e.cfg.DefenseDelay
	}
	if total := e.queue.Capacity(); total > 0 {
		if float64(e.queue.Size()) > e.cfg.QueueRejectRatio*float64(total) &&
			in.Priority >= intent.PriorityLow {
			return reject(ReasonQueueFull)
		}
	}

	// 4. Guild state.
	g := e.store.Guild(in.GuildID)
	if g.Paused && in.Action.IsChannelAction() {
		return rejectUser(ReasonGuildPaused, "Voice channel management is paused in this server.")
	}
	if g.RaidMode && in.Priority > intent.PriorityCritical {
		delay += e.cfg.RaidDelay
	}
	if g.EventPressure > e.cfg.EventThreshold {
		d := time.Duration(g.EventPressure-e.cfg.EventThreshold) * e.cfg.EventDelayPerUnit
		if d > e.cfg.MaxEventDelay {
			d = e.cfg.MaxEventDelay
		}
		delay += d
	}

	// 5. Resource lock. A lock held by this intent itself is not blocking.
	lockKey := keys.Lock(in.GuildID, in.ResourceType, in.ResourceID)
	if holder := e.locks.Holder(lockKey); holder != "" && holder != in.ID {
		if in.Priority <= intent.PriorityCritical {
			delay += e.cfg.LockWait
		} else {
			return reject(ReasonResourceLocked)
		}
	}

	// 6. Channel-level state.
	if in.Action.RequiresExistingChannel() {
		ch, ok := e.store.Channel(in.ResourceID)
		if !ok {
			return reject(ReasonInvalidState)
		}
		if ch.OperationPending {
			delay += e.cfg.PendingOpDelay
		}
	}
	if in.Action == intent.ActionCreateChannel {
		if p, ok := in.Payload.(intent.CreateChannelPayload); ok {
			if _, exists := e.store.ChannelByOwner(in.GuildID, p.OwnerID); exists {
				return rejectUser(ReasonDuplicate, "You already have a voice channel in this server.")
			}
		}
	}

	// 7. Rate governor, always last so its delay reflects the final verdict.
	allowed, govDelay := e.gov.CanProceed(in.Action, in.Priority)
	if !allowed {
		if in.Priority > intent.PriorityCritical {
			return reject(ReasonRateLimited)
		}
		delay += govDelay
	} else {
		delay += govDelay
	}

	return Decision{Execute: true, Reason: ReasonApproved, Delay: delay}
}

// execBaseline is the fixed per-action execution estimate before pressure
// scaling.
var execBaseline = map[intent.Action]time.Duration{
	intent.ActionCreateChannel:     1500 * time.Millisecond,
	intent.ActionDeleteChannel:     800 * time.Millisecond,
	intent.ActionTransferOwnership: 1200 * time.Millisecond,
	intent.ActionClaimOwnership:    1200 * time.Millisecond,
	intent.ActionEnforceState:      2 * time.Second,
	intent.ActionLog:               50 * time.Millisecond,
}

// EstimateExecutionTime returns the expected wall time of executing the
// intent, scaled up by current rate pressure.
func (e *Engine) EstimateExecutionTime(in *intent.Intent) time.Duration {
	base, ok := execBaseline[in.Action]
	if !ok {
		base = 500 * time.Millisecond
	}
	return time.Duration(float64(base) * (1 + e.gov.Pressure()/100))
}

// CalculateETA returns the expected total latency (queue wait plus execution)
// for the intent, along with a coarse human-readable rendering.
func (e *Engine) CalculateETA(in *intent.Intent) (time.Duration, string) {
	eta := e.queue.EstimateWait(in.Priority) + e.EstimateExecutionTime(in)
	return eta, FormatETA(eta)
}

// FormatETA renders a duration into one of six coarse buckets. Users get a
// rough promise, not a countdown.
func FormatETA(d time.Duration) string {
	switch {
	case d < 5*time.Second:
		return "a few seconds"
	case d < 15*time.Second:
		return "about ten seconds"
	case d < 30*time.Second:
		return "under half a minute"
	case d < time.Minute:
		return "under a minute"
	case d < 2*time.Minute:
		return "a minute or two"
	default:
		return fmt.Sprintf("several minutes (~%d min)", int(d.Minutes())+1)
	}
}
