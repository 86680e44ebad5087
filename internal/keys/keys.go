// Package keys derives the stable string keys the pipeline uses for resource
// locks, dedup tracking, and rate-limit route buckets. Keeping the derivation
// in one place guarantees that every component that refers to "the same
// resource" agrees on what that means.
package keys

import (
	"fmt"

	"github.com/pkaralis/go-voice-backend/internal/intent"
)

// Lock returns the mutual-exclusion key serializing mutations of a resource.
func Lock(guildID string, t intent.ResourceType, id string) string {
	return fmt.Sprintf("lock:%s:%s:%s", guildID, t, id)
}

// Owner returns the key guarding the one-channel-per-owner invariant.
func Owner(guildID, ownerID string) string {
	return fmt.Sprintf("owner:%s:%s", guildID, ownerID)
}

// Dedup returns the key under which duplicate pending intents collapse.
// Channel creation dedups on the owner (two creates for the same owner are
// the same request); everything else dedups on action+resource.
func Dedup(in *intent.Intent) string {
	if in.Action == intent.ActionCreateChannel {
		if p, ok := in.Payload.(intent.CreateChannelPayload); ok {
			return fmt.Sprintf("dedup:%s:create:%s", in.GuildID, p.OwnerID)
		}
	}
	return fmt.Sprintf("dedup:%s:%s:%s:%s", in.GuildID, in.Action, in.ResourceType, in.ResourceID)
}

// Route returns the rate-limit bucket route for an action, mirroring how the
// platform groups its REST endpoints.
func Route(a intent.Action) string {
	switch a {
	case intent.ActionCreateChannel:
		return "channels.create"
	case intent.ActionDeleteChannel:
		return "channels.delete"
	case intent.ActionRenameChannel, intent.ActionSetLimit,
		intent.ActionLockChannel, intent.ActionUnlockChannel,
		intent.ActionHideChannel, intent.ActionUnhideChannel:
		return "channels.edit"
	case intent.ActionGrantPermission, intent.ActionBanUser, intent.ActionRevokePermission,
		intent.ActionTransferOwnership, intent.ActionClaimOwnership:
		return "channels.permissions"
	case intent.ActionKickUser, intent.ActionMoveUser, intent.ActionDisconnectUser:
		return "guilds.members"
	default:
		return "internal"
	}
}
