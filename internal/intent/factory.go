// Package intent – factory.
//
// The factory stamps every new intent with the canonical cost, TTL, retry
// budget, and default priority for its action kind. Centralizing the tables
// here keeps the rate governor's cost accounting honest: an action's budget
// weight is decided once, not per call site.
package intent

import (
	"time"

	"github.com/google/uuid"
)

// actionDefaults holds the canonical per-action admission parameters.
type actionDefaults struct {
	cost        float64
	ttl         time.Duration
	maxAttempts int
	priority    Priority
}

// defaultsTable maps each action to its canonical parameters. Channel
// creation is the most expensive call the platform rate-limits, so it carries
// the highest cost and the tightest attempt cap.
var defaultsTable = map[Action]actionDefaults{
	ActionCreateChannel:     {cost: 10, ttl: 30 * time.Second, maxAttempts: 3, priority: PriorityHigh},
	ActionDeleteChannel:     {cost: 5, ttl: 60 * time.Second, maxAttempts: 5, priority: PriorityHigh},
	ActionLockChannel:       {cost: 3, ttl: 30 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionUnlockChannel:     {cost: 3, ttl: 30 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionHideChannel:       {cost: 3, ttl: 30 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionUnhideChannel:     {cost: 3, ttl: 30 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionRenameChannel:     {cost: 4, ttl: 45 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionSetLimit:          {cost: 3, ttl: 30 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionGrantPermission:   {cost: 3, ttl: 30 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionBanUser:           {cost: 3, ttl: 30 * time.Second, maxAttempts: 5, priority: PriorityHigh},
	ActionRevokePermission:  {cost: 3, ttl: 30 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionKickUser:          {cost: 2, ttl: 20 * time.Second, maxAttempts: 5, priority: PriorityHigh},
	ActionMoveUser:          {cost: 2, ttl: 20 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionDisconnectUser:    {cost: 2, ttl: 20 * time.Second, maxAttempts: 5, priority: PriorityHigh},
	ActionTransferOwnership: {cost: 6, ttl: 60 * time.Second, maxAttempts: 5, priority: PriorityHigh},
	ActionClaimOwnership:    {cost: 6, ttl: 60 * time.Second, maxAttempts: 5, priority: PriorityNormal},
	ActionLog:               {cost: 0.5, ttl: 5 * time.Minute, maxAttempts: 1, priority: PriorityDroppable},
	ActionEnforceState:      {cost: 5, ttl: 2 * time.Minute, maxAttempts: 3, priority: PriorityLow},
}

func defaults(a Action) actionDefaults {
	if d, ok := defaultsTable[a]; ok {
		return d
	}
	return actionDefaults{cost: 3, ttl: 30 * time.Second, maxAttempts: 3, priority: PriorityNormal}
}

// Cost returns the canonical rate-budget cost for an action.
func Cost(a Action) float64 { return defaults(a).cost }

// Option tweaks a factory-built intent.
type Option func(*Intent)

// WithPriority overrides the action's default priority.
func WithPriority(p Priority) Option {
	return func(in *Intent) { in.Priority = p }
}

// WithTTL overrides the action's default TTL.
func WithTTL(d time.Duration) Option {
	return func(in *Intent) { in.ExpiresAt = in.CreatedAt.Add(d) }
}

// WithTraceID propagates an existing trace id instead of minting one.
func WithTraceID(id string) Option {
	return func(in *Intent) {
		if id != "" {
			in.TraceID = id
		}
	}
}

// New builds an intent for action against the given resource, stamped with
// the action's canonical cost, TTL, retry budget, and default priority.
func New(action Action, guildID string, resType ResourceType, resID string, p Payload, src Source, opts ...Option) *Intent {
	d := defaults(action)
	now := time.Now()
	in := &Intent{
		ID:           uuid.NewString(),
		Action:       action,
		Priority:     d.priority,
		Status:       StatusPending,
		GuildID:      guildID,
		ResourceType: resType,
		ResourceID:   resID,
		Payload:      p,
		Source:       src,
		Cost:         d.cost,
		CreatedAt:    now,
		ExpiresAt:    now.Add(d.ttl),
		MaxAttempts:  d.maxAttempts,
		TraceID:      uuid.NewString(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}
