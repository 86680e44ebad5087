// Package executors – ownership transfer and claim.
//
// A transfer is the longest executor sequence in the pipeline: rebind the
// owner index, persist the new owner, strip the old owner's elevated
// overwrite, grant the new owner's, rename the channel after its new owner,
// and leave an audit trail. The index rebind comes first because it is the
// step that can conflict (the candidate may own another channel); failing
// fast there leaves the platform untouched.
package executors

import (
	"context"
	"errors"
	"fmt"

	"github.com/pkaralis/go-voice-backend/internal/domain"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/platform"
	"github.com/pkaralis/go-voice-backend/internal/repo"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

func (r *Registry) executeTransfer(ctx context.Context, in *intent.Intent) Result {
	p, ok := in.Payload.(intent.TransferPayload)
	if !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}
	if p.NewOwnerID == "" {
		return failure(ClassFatal, "missing_new_owner", nil)
	}

	if err := r.deps.Store.SetOwner(in.ResourceID, p.NewOwnerID); err != nil {
		if errors.Is(err, state.ErrOwnerTaken) {
			res := failure(ClassPolicy, "new_owner_has_channel", nil)
			res.Message = "That user already has a voice channel."
			return res
		}
		return failure(ClassPolicy, "channel_not_tracked", err)
	}

	if err := repo.UpdateChannelOwner(ctx, r.deps.DB, in.ResourceID, p.NewOwnerID); err != nil {
		r.persistWarn(in, err)
	}

	ownerAllow := platform.PermViewChannel | platform.PermConnect |
		platform.PermMoveMembers | platform.PermManageChannel

	r.deps.SelfEdits.Mark(in.ResourceID, "permissions")
	if p.OldOwnerID != "" {
		if err := r.deps.API.DeleteOverwrite(ctx, in.ResourceID, p.OldOwnerID); err != nil && !platform.IsNotFound(err) {
			r.deps.Log.Warn().Err(err).Str("channel_id", in.ResourceID).Msg("old owner overwrite removal failed")
		}
	}
	if err := r.deps.API.SetOverwrite(ctx, in.ResourceID, p.NewOwnerID, platform.OverwriteMember, ownerAllow, 0); err != nil {
		return r.classify(in, err)
	}
	r.recordCost(in)

	if p.NewName != "" {
		name := displayName(p.NewName)
		r.deps.SelfEdits.Mark(in.ResourceID, "edit")
		if err := r.deps.API.EditChannel(ctx, in.ResourceID, platform.ChannelEdit{Name: &name}); err != nil {
			// Ownership already moved; a failed rename is cosmetic.
			r.deps.Log.Warn().Err(err).Str("channel_id", in.ResourceID).Msg("rename after transfer failed")
		} else {
			r.deps.Store.UpdateChannel(in.ResourceID, func(c *state.Channel) { c.Name = name })
			if err := repo.UpdateChannelName(ctx, r.deps.DB, in.ResourceID, name); err != nil {
				r.persistWarn(in, err)
			}
		}
	}

	if err := repo.AppendAudit(ctx, r.deps.DB, &domain.AuditEntry{
		GuildID:   in.GuildID,
		ChannelID: in.ResourceID,
		ActorID:   in.Source.UserID,
		Event:     "ownership_transferred",
		Detail:    fmt.Sprintf("from=%s to=%s", p.OldOwnerID, p.NewOwnerID),
		TraceID:   in.TraceID,
	}); err != nil {
		r.deps.Log.Warn().Err(err).Str("intent_id", in.ID).Msg("audit append failed")
	}

	return success()
}
