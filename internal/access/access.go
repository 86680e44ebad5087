// Package access implements the tiered channel-access evaluator. Given a
// join attempt (who, which channel, current occupancy), it walks a strict
// precedence ladder and returns the first tier that matches. The ordering is
// the core business rule of the pipeline and must not be rearranged:
// owner-granted access always outranks platform-admin rank, bans outrank the
// strictness whitelist, and the capacity limit binds everyone except the
// channel owner, including admins and permanent grantees.
//
// Results are computed per evaluation and never persisted.
package access

import (
	"context"

	"github.com/pkaralis/go-voice-backend/internal/domain"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// Decision is the binary outcome of an evaluation.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// Reason identifies the tier that produced the decision, in precedence
// order.
type Reason string

const (
	ReasonBot            Reason = "bot"
	ReasonOwner          Reason = "owner"
	ReasonChannelFull    Reason = "channel_full"
	ReasonPermanentGrant Reason = "permanent_grant"
	ReasonTempPermit     Reason = "temp_permit"
	ReasonTempBan        Reason = "temp_ban"
	ReasonGlobalBlock    Reason = "global_block"
	ReasonChannelPermit  Reason = "channel_permit"
	ReasonChannelBan     Reason = "channel_ban"
	ReasonWhitelist      Reason = "whitelist"
	ReasonStrictness     Reason = "strictness"
	ReasonHidden         Reason = "hidden"
	ReasonLocked         Reason = "locked"
	ReasonDefault        Reason = "default"
)

// Result is the outcome of one access evaluation.
type Result struct {
	Decision Decision
	Reason   Reason
	Tier     int    // 0 = earliest (most authoritative) tier
	Message  string // optional user-facing explanation
}

func (r Result) Allowed() bool { return r.Decision == Allow }

// Request describes one join attempt.
type Request struct {
	GuildID     string
	ChannelID   string
	UserID      string
	RoleIDs     []string
	IsBot       bool
	MemberCount int // current occupancy, excluding the joiner
}

// DurableLookups are the database-backed records the evaluator consults:
// per-channel permits/bans and the guild strictness whitelist. Implemented
// by the repo layer; faked in tests.
type DurableLookups interface {
	ChannelPermissions(ctx context.Context, channelID string) ([]domain.PermissionRecord, error)
	GuildWhitelist(ctx context.Context, guildID string) ([]domain.WhitelistEntry, error)
}

// Evaluator answers access questions against live state plus durable
// records.
type Evaluator struct {
	store   *state.Store
	durable DurableLookups
}

// NewEvaluator builds an evaluator.
func NewEvaluator(store *state.Store, durable DurableLookups) *Evaluator {
	return &Evaluator{store: store, durable: durable}
}

func allow(tier int, reason Reason) Result {
	return Result{Decision: Allow, Reason: reason, Tier: tier}
}

func deny(tier int, reason Reason, msg string) Result {
	return Result{Decision: Deny, Reason: reason, Tier: tier, Message: msg}
}

// Evaluate walks the precedence ladder for one join attempt. Database errors
// fail closed for the durable tiers but still fall through to the later
// in-memory tiers, so a flaky database degrades to raw channel state rather
// than an outage.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) Result {
	ch, tracked := e.store.Channel(req.ChannelID)
	if !tracked {
		// Not a managed channel; nothing for us to gate.
		return allow(0, ReasonDefault)
	}

	// Tier 0: the bot itself is never gated.
	if req.IsBot {
		return allow(0, ReasonBot)
	}

	// Tier 1: the owner always enters their own channel.
	if req.UserID == ch.OwnerID {
		return allow(1, ReasonOwner)
	}

	// Tier 2: capacity binds everyone but the owner, including admins,
	// whitelisted users, and permanent grantees.
	if ch.UserLimit > 0 && req.MemberCount >= ch.UserLimit {
		return deny(2, ReasonChannelFull, "That channel is full.")
	}

	// Tier 3: owner-issued permanent grant.
	if e.store.HasPermanentGrant(req.GuildID, ch.OwnerID, req.UserID) {
		return allow(3, ReasonPermanentGrant)
	}

	// Tier 4: in-memory temporary permit/ban for this channel.
	if permitted, present := e.store.TempAccess(req.ChannelID, req.UserID); present {
		if permitted {
			return allow(4, ReasonTempPermit)
		}
		return deny(4, ReasonTempBan, "You are banned from that channel.")
	}

	// Tier 5: guild-wide block.
	if e.store.IsBlocked(req.GuildID, req.UserID) {
		return deny(5, ReasonGlobalBlock, "You are blocked from voice channels in this server.")
	}

	// Tier 6: durable per-channel permit/ban, by user or any held role.
	if recs, err := e.durable.ChannelPermissions(ctx, req.ChannelID); err == nil {
		if r, ok := matchPermission(recs, req); ok {
			if r.Allow {
				return allow(6, ReasonChannelPermit)
			}
			return deny(6, ReasonChannelBan, "You are banned from that channel.")
		}
	}

	// Tier 7: strictness whitelist, by user or any held role.
	guild := e.store.Guild(req.GuildID)
	if wl, err := e.durable.GuildWhitelist(ctx, req.GuildID); err == nil {
		if matchWhitelist(wl, req) {
			return allow(7, ReasonWhitelist)
		}
	}

	// Tier 8: admin strictness. When enabled, a locked or hidden channel
	// admits only the whitelist; admin rank alone does not override it.
	if guild.AdminStrict && (ch.IsLocked || ch.IsHidden) {
		return deny(8, ReasonStrictness, "That channel is restricted.")
	}

	// Tier 9: raw channel state.
	if ch.IsHidden {
		return deny(9, ReasonHidden, "That channel is hidden.")
	}
	if ch.IsLocked {
		return deny(9, ReasonLocked, "That channel is locked.")
	}

	return allow(10, ReasonDefault)
}

// matchPermission returns the first record matching the user directly, then
// any held role. A direct user record outranks role records.
func matchPermission(recs []domain.PermissionRecord, req Request) (domain.PermissionRecord, bool) {
	for _, r := range recs {
		if !r.IsRole && r.TargetID == req.UserID {
			return r, true
		}
	}
	for _, r := range recs {
		if !r.IsRole {
			continue
		}
		for _, role := range req.RoleIDs {
			if r.TargetID == role {
				return r, true
			}
		}
	}
	return domain.PermissionRecord{}, false
}

func matchWhitelist(entries []domain.WhitelistEntry, req Request) bool {
	for _, w := range entries {
		if !w.IsRole && w.TargetID == req.UserID {
			return true
		}
		if w.IsRole {
			for _, role := range req.RoleIDs {
				if w.TargetID == role {
					return true
				}
			}
		}
	}
	return false
}
