// Package intent defines the typed request model flowing through the
// admission and execution pipeline. An Intent is a single requested mutation
// of a managed voice channel (or a notification), carrying the priority, TTL,
// and retry metadata the scheduler needs to admit, pace, and re-admit it.
//
// Intents are value-built by the Factory (factory.go) so that every action
// kind gets its canonical cost, TTL, and retry budget. Payloads are a closed
// tagged union (payload.go); executors type-switch on the action and assert
// the matching payload struct, so an impossible action/payload pairing is a
// programming error surfaced at execution, never a silent misfire.
package intent

import (
	"time"

	"github.com/google/uuid"
)

// Action enumerates the closed set of mutations the pipeline can perform.
type Action int

const (
	ActionCreateChannel Action = iota
	ActionDeleteChannel
	ActionLockChannel
	ActionUnlockChannel
	ActionHideChannel
	ActionUnhideChannel
	ActionRenameChannel
	ActionSetLimit
	ActionGrantPermission
	ActionBanUser
	ActionRevokePermission
	ActionKickUser
	ActionMoveUser
	ActionDisconnectUser
	ActionTransferOwnership
	ActionClaimOwnership
	ActionLog
	ActionEnforceState
)

// String returns the stable wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionCreateChannel:
		return "create_channel"
	case ActionDeleteChannel:
		return "delete_channel"
	case ActionLockChannel:
		return "lock_channel"
	case ActionUnlockChannel:
		return "unlock_channel"
	case ActionHideChannel:
		return "hide_channel"
	case ActionUnhideChannel:
		return "unhide_channel"
	case ActionRenameChannel:
		return "rename_channel"
	case ActionSetLimit:
		return "set_limit"
	case ActionGrantPermission:
		return "grant_permission"
	case ActionBanUser:
		return "ban_user"
	case ActionRevokePermission:
		return "revoke_permission"
	case ActionKickUser:
		return "kick_user"
	case ActionMoveUser:
		return "move_user"
	case ActionDisconnectUser:
		return "disconnect_user"
	case ActionTransferOwnership:
		return "transfer_ownership"
	case ActionClaimOwnership:
		return "claim_ownership"
	case ActionLog:
		return "log"
	case ActionEnforceState:
		return "enforce_state"
	default:
		return "unknown"
	}
}

// ParseAction maps a wire name back to an Action. The boolean is false for
// names outside the closed set.
func ParseAction(s string) (Action, bool) {
	for a := ActionCreateChannel; a <= ActionEnforceState; a++ {
		if a.String() == s {
			return a, true
		}
	}
	return 0, false
}

// IsChannelAction reports whether the action mutates a managed channel, its
// permissions, or its ownership. Guild pause blocks exactly this set.
func (a Action) IsChannelAction() bool {
	switch a {
	case ActionLog, ActionEnforceState:
		return false
	default:
		return true
	}
}

// RequiresExistingChannel reports whether the action only makes sense against
// a channel the pipeline already manages.
func (a Action) RequiresExistingChannel() bool {
	switch a {
	case ActionCreateChannel, ActionLog, ActionEnforceState:
		return false
	default:
		return true
	}
}

// Priority orders intents for admission and dispatch. Lower is more urgent.
type Priority int

const (
	PriorityImmediate Priority = iota
	PriorityCritical
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityDroppable
)

// String returns the human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "immediate"
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityDroppable:
		return "droppable"
	default:
		return "unknown"
	}
}

// ParsePriority maps a name to a Priority, defaulting to normal for
// unrecognized values (callers submitting over HTTP get a sane default).
func ParsePriority(s string) Priority {
	switch s {
	case "immediate":
		return PriorityImmediate
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	case "droppable":
		return PriorityDroppable
	default:
		return PriorityNormal
	}
}

// Status is the lifecycle state machine driven by the scheduler:
//
//	PENDING → SCHEDULED → EXECUTING → {COMPLETED|FAILED|DROPPED|EXPIRED|CANCELLED|RETRY_SCHEDULED}
//	RETRY_SCHEDULED → PENDING (re-admission once NextRetryAt elapses)
type Status int

const (
	StatusPending Status = iota
	StatusScheduled
	StatusExecuting
	StatusCompleted
	StatusFailed
	StatusDropped
	StatusExpired
	StatusCancelled
	StatusRetryScheduled
)

// String returns the status name used in logs and API responses.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusScheduled:
		return "scheduled"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusDropped:
		return "dropped"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	case StatusRetryScheduled:
		return "retry_scheduled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends the intent's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDropped, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// SourceKind identifies who asked for a mutation.
type SourceKind int

const (
	SourceUser SourceKind = iota
	SourceSystem
	SourceScheduled
	SourceReconciler
)

// String returns the source kind name.
func (k SourceKind) String() string {
	switch k {
	case SourceUser:
		return "user"
	case SourceSystem:
		return "system"
	case SourceScheduled:
		return "scheduled"
	case SourceReconciler:
		return "reconciler"
	default:
		return "unknown"
	}
}

// Source records the originator of an intent. UserID is set only for
// user-initiated requests.
type Source struct {
	Kind   SourceKind
	UserID string
}

// ResourceType names the kind of entity an intent mutates (or whose lock it
// needs).
type ResourceType string

const (
	ResourceChannel ResourceType = "channel"
	ResourceOwner   ResourceType = "owner"
	ResourceGuild   ResourceType = "guild"
)

// Intent is a single requested mutation flowing through the pipeline.
//
// Attempts increments only when a worker actually begins executing, never on
// scheduling failures, so a crash between admission and dispatch does not
// silently consume retry budget. An intent past ExpiresAt is never
// dispatched.
type Intent struct {
	ID           string
	Action       Action
	Priority     Priority
	Status       Status
	GuildID      string
	ResourceType ResourceType
	ResourceID   string
	Payload      Payload
	Source       Source
	Cost         float64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Attempts     int
	MaxAttempts  int
	NextRetryAt  *time.Time
	ParentID     string
	TraceID      string
}

// Expired reports whether the intent's TTL has elapsed at now.
func (in *Intent) Expired(now time.Time) bool {
	return now.After(in.ExpiresAt)
}

// RetryBudgetLeft reports whether another execution attempt is permitted.
func (in *Intent) RetryBudgetLeft() bool {
	return in.Attempts < in.MaxAttempts
}

// Child derives a follow-up intent linked to this one, sharing the trace id.
func (in *Intent) Child(action Action, resType ResourceType, resID string, p Payload) *Intent {
	c := defaults(action)
	now := time.Now()
	return &Intent{
		ID:           uuid.NewString(),
		Action:       action,
		Priority:     c.priority,
		Status:       StatusPending,
		GuildID:      in.GuildID,
		ResourceType: resType,
		ResourceID:   resID,
		Payload:      p,
		Source:       in.Source,
		Cost:         c.cost,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.ttl),
		MaxAttempts:  c.maxAttempts,
		ParentID:     in.ID,
		TraceID:      in.TraceID,
	}
}
