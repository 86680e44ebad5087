// Package executors – kick, move, and disconnect of connected members.
//
// All three reduce to the platform's member-move call: a move carries a
// target channel, a disconnect carries none, and a kick is a disconnect
// followed by a temporary channel ban so the member cannot rejoin
// immediately.
package executors

import (
	"context"

	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/platform"
)

func (r *Registry) executeMember(ctx context.Context, in *intent.Intent) Result {
	p, ok := in.Payload.(intent.MemberPayload)
	if !ok {
		return failure(ClassFatal, "payload_mismatch", nil)
	}
	if p.UserID == "" {
		return failure(ClassFatal, "missing_user", nil)
	}

	target := ""
	if in.Action == intent.ActionMoveUser {
		if p.TargetChannelID == "" {
			return failure(ClassFatal, "missing_target_channel", nil)
		}
		target = p.TargetChannelID
	}

	if err := r.deps.API.MoveMember(ctx, in.GuildID, p.UserID, target); err != nil {
		// A member who already left the channel is the desired end state for
		// kick/disconnect.
		if platform.IsNotFound(err) && in.Action != intent.ActionMoveUser {
			r.recordCost(in)
			return success()
		}
		return r.classify(in, err)
	}
	r.recordCost(in)

	if in.Action == intent.ActionKickUser {
		r.deps.Store.SetTempAccess(in.ResourceID, p.UserID, false)
	}
	return success()
}
