// Package executors performs the actual side effects the pipeline admits:
// one executor per action kind, sharing a common contract. Every executor
// validates payload and TTL first (cheap rejection), re-checks admission
// facts that may have gone stale since scheduling, performs the platform
// mutation, and only then updates the state store, persists to the durable
// store, and records cost against the rate governor.
//
// A durable-store failure after a successful platform mutation is logged as
// a critical consistency warning and counted, never rolled back: the
// periodic reconciliation job owns healing that drift.
package executors

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/pkaralis/go-voice-backend/internal/governor"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/keys"
	"github.com/pkaralis/go-voice-backend/internal/metrics"
	"github.com/pkaralis/go-voice-backend/internal/platform"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// Class classifies a failed execution for the scheduler's retry policy.
type Class int

const (
	// ClassNone marks a successful result.
	ClassNone Class = iota
	// ClassRateLimited is an external 429; always retryable after the
	// server-provided delay.
	ClassRateLimited
	// ClassTransient is a recoverable failure (5xx and a few edge codes);
	// retryable with exponential backoff.
	ClassTransient
	// ClassPolicy is a stale-admission rejection (duplicate owner, cooldown,
	// emergency mode); never retried.
	ClassPolicy
	// ClassExpired means the TTL elapsed before or during execution.
	ClassExpired
	// ClassFatal is everything else; the intent is marked failed.
	ClassFatal
)

// String returns the class name used in logs.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	case ClassPolicy:
		return "policy"
	case ClassExpired:
		return "expired"
	default:
		return "fatal"
	}
}

// Result is the structured outcome of one execution attempt.
type Result struct {
	OK           bool
	Class        Class
	Reason       string // stable machine-readable detail for operators
	Message      string // optional user-facing text
	Err          error
	RetryAfter   time.Duration // populated for rate-limited failures
	NewChannelID string        // populated by channel creation
}

// Retryable reports whether the scheduler may re-admit the intent.
func (r Result) Retryable() bool {
	return r.Class == ClassRateLimited || r.Class == ClassTransient
}

func success() Result { return Result{OK: true} }

func failure(c Class, reason string, err error) Result {
	return Result{Class: c, Reason: reason, Err: err}
}

// Deps bundles what every executor needs. The self-edit cache is injected so
// the gateway event layer can ask "was this mutation ours" without a global
// registry.
type Deps struct {
	API       platform.API
	DB        *gorm.DB
	Store     *state.Store
	Governor  *governor.Governor
	SelfEdits *SelfEditCache
	Log       zerolog.Logger

	// CreateCooldown is the minimum spacing between channel creations per
	// user; guards against retry storms feeding back into queue pressure.
	CreateCooldown time.Duration
}

// Registry dispatches intents to their executors. One registry serves the
// whole worker pool; its internal state (per-user creation limiters) is
// mutex-free because limiters themselves are concurrency-safe and the map is
// guarded by the cooldown helper.
type Registry struct {
	deps      Deps
	cooldowns *cooldownTable
}

// NewRegistry builds the executor registry.
func NewRegistry(deps Deps) *Registry {
	if deps.CreateCooldown <= 0 {
		deps.CreateCooldown = 10 * time.Second
	}
	deps.Log = deps.Log.With().Str("component", "executors").Logger()
	return &Registry{
		deps:      deps,
		cooldowns: newCooldownTable(rate.Every(deps.CreateCooldown), 1),
	}
}

// Execute runs the executor for the intent's action. The action switch is
// exhaustive over the closed action set; an unknown action is a fatal
// programming error, not a retryable condition.
func (r *Registry) Execute(ctx context.Context, in *intent.Intent) Result {
	if in.Expired(time.Now()) {
		return failure(ClassExpired, "ttl_elapsed", nil)
	}

	switch in.Action {
	case intent.ActionCreateChannel:
		return r.executeCreate(ctx, in)
	case intent.ActionDeleteChannel:
		return r.executeDelete(ctx, in)
	case intent.ActionLockChannel, intent.ActionUnlockChannel,
		intent.ActionHideChannel, intent.ActionUnhideChannel:
		return r.executeVisibility(ctx, in)
	case intent.ActionRenameChannel:
		return r.executeRename(ctx, in)
	case intent.ActionSetLimit:
		return r.executeSetLimit(ctx, in)
	case intent.ActionGrantPermission, intent.ActionBanUser, intent.ActionRevokePermission:
		return r.executePermission(ctx, in)
	case intent.ActionKickUser, intent.ActionMoveUser, intent.ActionDisconnectUser:
		return r.executeMember(ctx, in)
	case intent.ActionTransferOwnership, intent.ActionClaimOwnership:
		return r.executeTransfer(ctx, in)
	case intent.ActionLog:
		return r.executeLog(ctx, in)
	case intent.ActionEnforceState:
		return r.executeEnforce(ctx, in)
	default:
		return failure(ClassFatal, "unknown_action", nil)
	}
}

// classify converts a platform error into a structured failure, feeding
// rate-limit hits back into the governor as a side effect.
func (r *Registry) classify(in *intent.Intent, err error) Result {
	route := keys.Route(in.Action)

	if ae, ok := platform.IsRateLimited(err); ok {
		r.deps.Governor.RecordRateLimitHit(route, ae.RetryAfter, ae.Global)
		metrics.RateLimitHits.WithLabelValues(route).Inc()
		res := failure(ClassRateLimited, "platform_rate_limited", err)
		res.RetryAfter = ae.RetryAfter
		return res
	}
	if platform.IsServerError(err) {
		return failure(ClassTransient, "platform_server_error", err)
	}
	// Stale caches make spurious 404/403 possible right after channel
	// churn; both usually resolve on the next attempt.
	if platform.IsNotFound(err) {
		return failure(ClassTransient, "platform_not_found", err)
	}
	if platform.IsForbidden(err) {
		return failure(ClassTransient, "platform_forbidden", err)
	}
	return failure(ClassFatal, "platform_error", err)
}

// recordCost charges the governor for a completed platform call.
func (r *Registry) recordCost(in *intent.Intent) {
	r.deps.Governor.RecordAction(in.Action, in.Cost, in.Attempts > 1)
}

// persistWarn logs a durable-store failure after a successful platform
// mutation. The external state is already changed; rolling back would lose
// the user's result, so the drift is surfaced for reconciliation instead.
func (r *Registry) persistWarn(in *intent.Intent, err error) {
	metrics.ConsistencyWarnings.Inc()
	r.deps.Log.Error().
		Err(err).
		Str("intent_id", in.ID).
		Str("action", in.Action.String()).
		Str("guild_id", in.GuildID).
		Str("trace_id", in.TraceID).
		Msg("CONSISTENCY: platform mutation applied but durable write failed")
}
