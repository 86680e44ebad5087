// Package executors – lock/unlock, hide/unhide, rename, limit.
//
// Lock and hide are expressed as @everyone permission overwrites (deny
// CONNECT, deny VIEW_CHANNEL); rename and limit are plain channel edits.
// Rename display names are normalized with x/text casing so user-provided
// names render consistently.
package executors

import (
	"context"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/platform"
	"github.com/pkaralis/go-voice-backend/internal/repo"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// everyoneRoleID returns the platform's implicit @everyone role id, which
// equals the guild id.
func everyoneRoleID(guildID string) string { return guildID }

func (r *Registry) executeVisibility(ctx context.Context, in *intent.Intent) Result {
	if _, ok := in.Payload.(intent.VisibilityPayload); !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}
	ch, ok := r.deps.Store.Channel(in.ResourceID)
	if !ok {
		return failure(ClassPolicy, "channel_not_tracked", nil)
	}

	locked, hidden := ch.IsLocked, ch.IsHidden
	switch in.Action {
	case intent.ActionLockChannel:
		locked = true
	case intent.ActionUnlockChannel:
		locked = false
	case intent.ActionHideChannel:
		hidden = true
	case intent.ActionUnhideChannel:
		hidden = false
	}

	var deny int64
	if locked {
		deny |= platform.PermConnect
	}
	if hidden {
		deny |= platform.PermViewChannel
	}

	r.deps.SelfEdits.Mark(in.ResourceID, "permissions")
	var err error
	if deny == 0 {
		err = r.deps.API.DeleteOverwrite(ctx, in.ResourceID, everyoneRoleID(in.GuildID))
		// No overwrite to delete is the desired end state.
		if platform.IsNotFound(err) {
			err = nil
		}
	} else {
		err = r.deps.API.SetOverwrite(ctx, in.ResourceID, everyoneRoleID(in.GuildID), platform.OverwriteRole, 0, deny)
	}
	if err != nil {
		return r.classify(in, err)
	}
	r.recordCost(in)

	r.deps.Store.UpdateChannel(in.ResourceID, func(c *state.Channel) {
		c.IsLocked = locked
		c.IsHidden = hidden
	})
	if err := repo.UpdateChannelFlags(ctx, r.deps.DB, in.ResourceID, locked, hidden, ch.UserLimit); err != nil {
		r.persistWarn(in, err)
	}
	return success()
}

// displayName title-cases a channel name for rename. A fresh Caser per call
// because cases.Caser is not safe for concurrent use.
func displayName(name string) string {
	return cases.Title(language.Und, cases.NoLower).String(name)
}

func (r *Registry) executeRename(ctx context.Context, in *intent.Intent) Result {
	p, ok := in.Payload.(intent.RenamePayload)
	if !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}
	name := displayName(p.Name)
	if name == "" {
		return failure(ClassFatal, "empty_name", nil)
	}

	r.deps.SelfEdits.Mark(in.ResourceID, "edit")
	if err := r.deps.API.EditChannel(ctx, in.ResourceID, platform.ChannelEdit{Name: &name}); err != nil {
		return r.classify(in, err)
	}
	r.recordCost(in)

	r.deps.Store.UpdateChannel(in.ResourceID, func(c *state.Channel) { c.Name = name })
	if err := repo.UpdateChannelName(ctx, r.deps.DB, in.ResourceID, name); err != nil {
		r.persistWarn(in, err)
	}
	return success()
}

func (r *Registry) executeSetLimit(ctx context.Context, in *intent.Intent) Result {
	p, ok := in.Payload.(intent.SetLimitPayload)
	if !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}
	if p.Limit < 0 || p.Limit > 99 {
		return failure(ClassFatal, "limit_out_of_range", nil)
	}
	ch, ok := r.deps.Store.Channel(in.ResourceID)
	if !ok {
		return failure(ClassPolicy, "channel_not_tracked", nil)
	}

	r.deps.SelfEdits.Mark(in.ResourceID, "edit")
	if err := r.deps.API.EditChannel(ctx, in.ResourceID, platform.ChannelEdit{UserLimit: &p.Limit}); err != nil {
		return r.classify(in, err)
	}
	r.recordCost(in)

	r.deps.Store.UpdateChannel(in.ResourceID, func(c *state.Channel) { c.UserLimit = p.Limit })
	if err := repo.UpdateChannelFlags(ctx, r.deps.DB, in.ResourceID, ch.IsLocked, ch.IsHidden, p.Limit); err != nil {
		r.persistWarn(in, err)
	}
	return success()
}
