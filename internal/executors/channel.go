// Package executors – channel creation and deletion.
package executors

import (
	"context"
	"time"

	"github.com/pkaralis/go-voice-backend/internal/domain"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/platform"
	"github.com/pkaralis/go-voice-backend/internal/repo"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// createAttemptCap is a hard cap on execution attempts for one create
// intent, independent of the generic retry budget. Creation retries are the
// main feedback loop into queue pressure, so they are cut off early.
const createAttemptCap = 3

func (r *Registry) executeCreate(ctx context.Context, in *intent.Intent) Result {
	p, ok := in.Payload.(intent.CreateChannelPayload)
	if !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}
	if in.Attempts > createAttemptCap {
		return failure(ClassPolicy, "create_attempt_cap", nil)
	}

	// Stale-admission double checks: the decision engine approved this
	// intent some scheduling delay ago and the world may have moved on.
	if _, exists := r.deps.Store.ChannelByOwner(in.GuildID, p.OwnerID); exists {
		res := failure(ClassPolicy, "duplicate_owner", nil)
		res.Message = "You already have a voice channel in this server."
		return res
	}
	if r.deps.Governor.EmergencyActive() && in.Priority > intent.PriorityImmediate {
		return failure(ClassPolicy, "emergency_mode", nil)
	}
	if !r.cooldowns.allow(p.OwnerID) {
		res := failure(ClassPolicy, "create_cooldown", nil)
		res.Message = "You are creating channels too quickly. Try again shortly."
		return res
	}

	ch, err := r.deps.API.CreateChannel(ctx, in.GuildID, platform.ChannelCreate{
		Name:      p.Name,
		Type:      2,
		ParentID:  p.ParentID,
		UserLimit: p.UserLimit,
	})
	if err != nil {
		return r.classify(in, err)
	}
	r.recordCost(in)

	// Grant the owner elevated permissions on their new channel. A failure
	// here is transient from the user's perspective; the enforcement job
	// re-applies overwrites, so only log it.
	ownerAllow := platform.PermViewChannel | platform.PermConnect |
		platform.PermMoveMembers | platform.PermManageChannel
	r.deps.SelfEdits.Mark(ch.ID, "permissions")
	if err := r.deps.API.SetOverwrite(ctx, ch.ID, p.OwnerID, platform.OverwriteMember, ownerAllow, 0); err != nil {
		r.deps.Log.Warn().Err(err).Str("channel_id", ch.ID).Msg("owner overwrite failed after create")
	}

	sc := &state.Channel{
		ChannelID:     ch.ID,
		GuildID:       in.GuildID,
		OwnerID:       p.OwnerID,
		Name:          p.Name,
		UserLimit:     p.UserLimit,
		IsTeamChannel: p.TeamType != "",
		TeamType:      p.TeamType,
		LastModified:  time.Now(),
	}
	if err := r.deps.Store.PutChannel(sc); err != nil {
		// The platform channel exists but another create won the index race.
		// Remove ours rather than leave an orphan.
		r.deps.SelfEdits.Mark(ch.ID, "delete")
		_ = r.deps.API.DeleteChannel(ctx, ch.ID, "duplicate owner channel")
		res := failure(ClassPolicy, "duplicate_owner", err)
		res.Message = "You already have a voice channel in this server."
		return res
	}

	if err := repo.UpsertChannel(ctx, r.deps.DB, &domain.ManagedChannel{
		ID:            ch.ID,
		GuildID:       in.GuildID,
		OwnerID:       p.OwnerID,
		Name:          p.Name,
		UserLimit:     p.UserLimit,
		IsTeamChannel: p.TeamType != "",
		TeamType:      p.TeamType,
	}); err != nil {
		r.persistWarn(in, err)
	}

	res := success()
	res.NewChannelID = ch.ID
	return res
}

func (r *Registry) executeDelete(ctx context.Context, in *intent.Intent) Result {
	p, ok := in.Payload.(intent.DeleteChannelPayload)
	if !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}

	r.deps.SelfEdits.Mark(in.ResourceID, "delete")
	if err := r.deps.API.DeleteChannel(ctx, in.ResourceID, p.Reason); err != nil {
		// Already gone on the platform: treat as success and fall through to
		// cleanup, otherwise the mirror would keep a ghost channel forever.
		if !platform.IsNotFound(err) {
			return r.classify(in, err)
		}
	}
	r.recordCost(in)

	r.deps.Store.RemoveChannel(in.ResourceID)
	if err := repo.DeleteChannel(ctx, r.deps.DB, in.ResourceID); err != nil {
		r.persistWarn(in, err)
	}
	return success()
}
