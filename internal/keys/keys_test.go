package keys

import (
	"testing"

	"github.com/pkaralis/go-voice-backend/internal/intent"
)

func TestLockAndOwnerKeys(t *testing.T) {
	if got := Lock("g1", intent.ResourceChannel, "c1"); got != "lock:g1:channel:c1" {
		t.Fatalf("Lock key = %q", got)
	}
	if got := Owner("g1", "u1"); got != "owner:g1:u1" {
		t.Fatalf("Owner key = %q", got)
	}
}

func TestDedup_CreateCollapsesOnOwner(t *testing.T) {
	src := intent.Source{Kind: intent.SourceUser, UserID: "u1"}
	a := intent.New(intent.ActionCreateChannel, "g1", intent.ResourceOwner, "u1",
		intent.CreateChannelPayload{OwnerID: "u1", Name: "alpha"}, src)
	b := intent.New(intent.ActionCreateChannel, "g1", intent.ResourceOwner, "u1",
		intent.CreateChannelPayload{OwnerID: "u1", Name: "beta"}, src)

	if Dedup(a) != Dedup(b) {
		t.Fatalf("two creates for the same owner must share a dedup key")
	}

	c := intent.New(intent.ActionCreateChannel, "g1", intent.ResourceOwner, "u2",
		intent.CreateChannelPayload{OwnerID: "u2"}, src)
	if Dedup(a) == Dedup(c) {
		t.Fatalf("creates for different owners must not collide")
	}
}

func TestDedup_OtherActionsKeyOnResource(t *testing.T) {
	src := intent.Source{Kind: intent.SourceSystem}
	lockA := intent.New(intent.ActionLockChannel, "g1", intent.ResourceChannel, "c1",
		intent.VisibilityPayload{}, src)
	lockB := intent.New(intent.ActionLockChannel, "g1", intent.ResourceChannel, "c1",
		intent.VisibilityPayload{}, src)
	unlock := intent.New(intent.ActionUnlockChannel, "g1", intent.ResourceChannel, "c1",
		intent.VisibilityPayload{}, src)

	if Dedup(lockA) != Dedup(lockB) {
		t.Fatalf("same action on the same resource must share a dedup key")
	}
	if Dedup(lockA) == Dedup(unlock) {
		t.Fatalf("different actions must not collide")
	}
}

func TestRoute_Groups(t *testing.T) {
	cases := map[intent.Action]string{
		intent.ActionCreateChannel:     "channels.create",
		intent.ActionDeleteChannel:     "channels.delete",
		intent.ActionRenameChannel:     "channels.edit",
		intent.ActionSetLimit:          "channels.edit",
		intent.ActionLockChannel:       "channels.edit",
		intent.ActionGrantPermission:   "channels.permissions",
		intent.ActionTransferOwnership: "channels.permissions",
		intent.ActionKickUser:          "guilds.members",
		intent.ActionMoveUser:          "guilds.members",
		intent.ActionLog:               "internal",
	}
	for a, want := range cases {
		if got := Route(a); got != want {
			t.Fatalf("Route(%v) = %q, want %q", a, got, want)
		}
	}
}
