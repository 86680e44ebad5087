// Package executors – permission grants, bans, and revocations.
package executors

import (
	"context"

	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/platform"
	"github.com/pkaralis/go-voice-backend/internal/repo"
)

func (r *Registry) executePermission(ctx context.Context, in *intent.Intent) Result {
	p, ok := in.Payload.(intent.PermissionPayload)
	if !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}
	ch, ok := r.deps.Store.Channel(in.ResourceID)
	if !ok {
		return failure(ClassPolicy, "channel_not_tracked", nil)
	}

	kind := platform.OverwriteMember
	if p.IsRole {
		kind = platform.OverwriteRole
	}
	memberPerms := platform.PermViewChannel | platform.PermConnect

	r.deps.SelfEdits.Mark(in.ResourceID, "permissions")
	switch in.Action {
	case intent.ActionGrantPermission:
		if err := r.deps.API.SetOverwrite(ctx, in.ResourceID, p.TargetID, kind, memberPerms, 0); err != nil {
			return r.classify(in, err)
		}
		r.recordCost(in)
		r.deps.Store.SetTempAccess(in.ResourceID, p.TargetID, true)
		if err := repo.SavePermission(ctx, r.deps.DB, in.ResourceID, p.TargetID, p.IsRole, true, in.Source.UserID); err != nil {
			r.persistWarn(in, err)
		}
		// Owner-issued permanent grants carry across channel recreation.
		if p.Permanent && !p.IsRole {
			r.deps.Store.GrantPermanent(in.GuildID, ch.OwnerID, p.TargetID)
			if err := repo.SaveGrant(ctx, r.deps.DB, in.GuildID, ch.OwnerID, p.TargetID); err != nil {
				r.persistWarn(in, err)
			}
		}

	case intent.ActionBanUser:
		if err := r.deps.API.SetOverwrite(ctx, in.ResourceID, p.TargetID, kind, 0, memberPerms); err != nil {
			return r.classify(in, err)
		}
		r.recordCost(in)
		r.deps.Store.SetTempAccess(in.ResourceID, p.TargetID, false)
		if err := repo.SavePermission(ctx, r.deps.DB, in.ResourceID, p.TargetID, p.IsRole, false, in.Source.UserID); err != nil {
			r.persistWarn(in, err)
		}

	case intent.ActionRevokePermission:
		if err := r.deps.API.DeleteOverwrite(ctx, in.ResourceID, p.TargetID); err != nil && !platform.IsNotFound(err) {
			return r.classify(in, err)
		}
		r.recordCost(in)
		r.deps.Store.ClearTempAccess(in.ResourceID, p.TargetID)
		if err := repo.DeletePermission(ctx, r.deps.DB, in.ResourceID, p.TargetID); err != nil {
			r.persistWarn(in, err)
		}
		if p.Permanent && !p.IsRole {
			r.deps.Store.RevokePermanent(in.GuildID, ch.OwnerID, p.TargetID)
			if err := repo.DeleteGrant(ctx, r.deps.DB, in.GuildID, ch.OwnerID, p.TargetID); err != nil {
				r.persistWarn(in, err)
			}
		}
	}

	return success()
}
