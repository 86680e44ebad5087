// Package executors – audit logging and state enforcement.
package executors

import (
	"context"

	"github.com/pkaralis/go-voice-backend/internal/domain"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/platform"
	"github.com/pkaralis/go-voice-backend/internal/repo"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

func (r *Registry) executeLog(ctx context.Context, in *intent.Intent) Result {
	p, ok := in.Payload.(intent.LogPayload)
	if !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}
	if err := repo.AppendAudit(ctx, r.deps.DB, &domain.AuditEntry{
		GuildID:   in.GuildID,
		ChannelID: in.ResourceID,
		ActorID:   p.ActorID,
		Event:     p.Event,
		Detail:    p.Detail,
		TraceID:   in.TraceID,
	}); err != nil {
		return failure(ClassTransient, "audit_write_failed", err)
	}
	return success()
}

// executeEnforce forces a channel's live platform state back to the durable
// record: the @everyone overwrite implied by the lock/hide flags, the user
// limit, and the owner's elevated overwrite. Invoked by the reconciliation
// job when it detects drift.
func (r *Registry) executeEnforce(ctx context.Context, in *intent.Intent) Result {
	p, ok := in.Payload.(intent.EnforceStatePayload)
	if !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}

	rec, err := repo.GetChannel(ctx, r.deps.DB, p.ChannelID)
	if err != nil {
		return failure(ClassPolicy, "no_durable_record", err)
	}

	var deny int64
	if rec.IsLocked {
		deny |= platform.PermConnect
	}
	if rec.IsHidden {
		deny |= platform.PermViewChannel
	}

	r.deps.SelfEdits.Mark(p.ChannelID, "permissions")
	if deny == 0 {
		if err := r.deps.API.DeleteOverwrite(ctx, p.ChannelID, everyoneRoleID(rec.GuildID)); err != nil && !platform.IsNotFound(err) {
			return r.classify(in, err)
		}
	} else {
		if err := r.deps.API.SetOverwrite(ctx, p.ChannelID, everyoneRoleID(rec.GuildID), platform.OverwriteRole, 0, deny); err != nil {
			return r.classify(in, err)
		}
	}

	ownerAllow := platform.PermViewChannel | platform.PermConnect |
		platform.PermMoveMembers | platform.PermManageChannel
	if err := r.deps.API.SetOverwrite(ctx, p.ChannelID, rec.OwnerID, platform.OverwriteMember, ownerAllow, 0); err != nil {
		return r.classify(in, err)
	}

	limit := rec.UserLimit
	r.deps.SelfEdits.Mark(p.ChannelID, "edit")
	if err := r.deps.API.EditChannel(ctx, p.ChannelID, platform.ChannelEdit{UserLimit: &limit}); err != nil {
		return r.classify(in, err)
	}
	r.recordCost(in)

	// Refresh the mirror to the enforced values.
	_ = r.deps.Store.PutChannel(stateChannelFrom(rec))
	return success()
}

// stateChannelFrom maps a durable record into the in-memory mirror shape.
func stateChannelFrom(rec *domain.ManagedChannel) *state.Channel {
	return &state.Channel{
		ChannelID:     rec.ID,
		GuildID:       rec.GuildID,
		OwnerID:       rec.OwnerID,
		Name:          rec.Name,
		IsLocked:      rec.IsLocked,
		IsHidden:      rec.IsHidden,
		UserLimit:     rec.UserLimit,
		IsTeamChannel: rec.IsTeamChannel,
		TeamType:      rec.TeamType,
		LastModified:  rec.UpdatedAt,
	}
}
