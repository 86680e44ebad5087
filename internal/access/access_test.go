package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pkaralis/go-voice-backend/internal/domain"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

type fakeDurable struct {
	perms     []domain.PermissionRecord
	whitelist []domain.WhitelistEntry
	permsErr  error
	wlErr     error
}

func (f *fakeDurable) ChannelPermissions(_ context.Context, _ string) ([]domain.PermissionRecord, error) {
	return f.perms, f.permsErr
}

func (f *fakeDurable) GuildWhitelist(_ context.Context, _ string) ([]domain.WhitelistEntry, error) {
	return f.whitelist, f.wlErr
}

type fixture struct {
	eval    *Evaluator
	store   *state.Store
	durable *fakeDurable
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := state.New(10 * time.Minute)
	durable := &fakeDurable{}
	return &fixture{eval: NewEvaluator(store, durable), store: store, durable: durable}
}

func (f *fixture) track(channelID, ownerID string, mut func(*state.Channel)) {
	ch := &state.Channel{ChannelID: channelID, GuildID: "g1", OwnerID: ownerID}
	if mut != nil {
		mut(ch)
	}
	if err := f.store.PutChannel(ch); err != nil {
		panic(err)
	}
}

func join(userID string) Request {
	return Request{GuildID: "g1", ChannelID: "c1", UserID: userID}
}

// --- early tiers ---

func TestEvaluate_UntrackedChannelIsUngated(t *testing.T) {
	f := newFixture(t)
	res := f.eval.Evaluate(context.Background(), join("u1"))
	if !res.Allowed() || res.Reason != ReasonDefault {
		t.Fatalf("untracked channel: %+v", res)
	}
}

func TestEvaluate_BotAndOwnerAlwaysEnter(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", func(ch *state.Channel) {
		ch.IsLocked = true
		ch.IsHidden = true
		ch.UserLimit = 1
	})

	bot := join("bot-user")
	bot.IsBot = true
	bot.MemberCount = 5
	if res := f.eval.Evaluate(context.Background(), bot); !res.Allowed() || res.Reason != ReasonBot {
		t.Fatalf("bot: %+v", res)
	}

	owner := join("owner")
	owner.MemberCount = 5
	if res := f.eval.Evaluate(context.Background(), owner); !res.Allowed() || res.Reason != ReasonOwner {
		t.Fatalf("owner must enter a full locked channel: %+v", res)
	}
}

func TestEvaluate_CapacityBindsEveryoneElse(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", func(ch *state.Channel) { ch.UserLimit = 2 })
	// Even a permanent grantee is bound by capacity.
	f.store.GrantPermanent("g1", "owner", "friend")

	req := join("friend")
	req.MemberCount = 2
	res := f.eval.Evaluate(context.Background(), req)
	if res.Allowed() || res.Reason != ReasonChannelFull {
		t.Fatalf("full channel must deny grantees: %+v", res)
	}

	req.MemberCount = 1
	if res := f.eval.Evaluate(context.Background(), req); !res.Allowed() || res.Reason != ReasonPermanentGrant {
		t.Fatalf("grantee with room: %+v", res)
	}
}

// --- middle tiers ---

func TestEvaluate_TempAccessOutranksGlobalBlock(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", nil)
	f.store.BlockUser("g1", "u1", "spam", nil)
	f.store.SetTempAccess("c1", "u1", true)

	res := f.eval.Evaluate(context.Background(), join("u1"))
	if !res.Allowed() || res.Reason != ReasonTempPermit {
		t.Fatalf("temp permit outranks global block: %+v", res)
	}

	f.store.SetTempAccess("c1", "u1", false)
	if res := f.eval.Evaluate(context.Background(), join("u1")); res.Allowed() || res.Reason != ReasonTempBan {
		t.Fatalf("temp ban: %+v", res)
	}
}

func TestEvaluate_GlobalBlockBeatsDurableRecords(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", nil)
	f.store.BlockUser("g1", "u1", "spam", nil)
	f.durable.perms = []domain.PermissionRecord{{ChannelID: "c1", TargetID: "u1", Allow: true}}

	res := f.eval.Evaluate(context.Background(), join("u1"))
	if res.Allowed() || res.Reason != ReasonGlobalBlock {
		t.Fatalf("global block outranks a durable permit: %+v", res)
	}
}

func TestEvaluate_DurableBanBeatsWhitelist(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", func(ch *state.Channel) { ch.IsLocked = true })
	f.durable.perms = []domain.PermissionRecord{{ChannelID: "c1", TargetID: "u1", Allow: false}}
	f.durable.whitelist = []domain.WhitelistEntry{{GuildID: "g1", TargetID: "u1"}}

	res := f.eval.Evaluate(context.Background(), join("u1"))
	if res.Allowed() || res.Reason != ReasonChannelBan {
		t.Fatalf("channel ban outranks the whitelist: %+v", res)
	}
}

func TestEvaluate_UserRecordOutranksRoleRecord(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", nil)
	f.durable.perms = []domain.PermissionRecord{
		{ChannelID: "c1", TargetID: "mods", IsRole: true, Allow: true},
		{ChannelID: "c1", TargetID: "u1", Allow: false},
	}

	req := join("u1")
	req.RoleIDs = []string{"mods"}
	res := f.eval.Evaluate(context.Background(), req)
	if res.Allowed() || res.Reason != ReasonChannelBan {
		t.Fatalf("direct user ban outranks a role permit: %+v", res)
	}
}

// --- strictness and raw state ---

func TestEvaluate_WhitelistPassesLockedChannel(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", func(ch *state.Channel) { ch.IsLocked = true })
	f.durable.whitelist = []domain.WhitelistEntry{{GuildID: "g1", TargetID: "vip-role", IsRole: true}}

	req := join("u1")
	req.RoleIDs = []string{"vip-role"}
	res := f.eval.Evaluate(context.Background(), req)
	if !res.Allowed() || res.Reason != ReasonWhitelist {
		t.Fatalf("whitelisted role passes a locked channel: %+v", res)
	}
}

func TestEvaluate_StrictnessDeniesUnlisted(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", func(ch *state.Channel) { ch.IsLocked = true })
	f.store.SetGuildStrict("g1", true)

	res := f.eval.Evaluate(context.Background(), join("u1"))
	if res.Allowed() || res.Reason != ReasonStrictness {
		t.Fatalf("strict guild denies unlisted users on locked channels: %+v", res)
	}

	// Strictness only binds locked/hidden channels.
	f.track("c2", "owner2", nil)
	req := Request{GuildID: "g1", ChannelID: "c2", UserID: "u1"}
	if res := f.eval.Evaluate(context.Background(), req); !res.Allowed() {
		t.Fatalf("open channel in a strict guild: %+v", res)
	}
}

func TestEvaluate_RawChannelState(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", func(ch *state.Channel) { ch.IsHidden = true })
	res := f.eval.Evaluate(context.Background(), join("u1"))
	if res.Allowed() || res.Reason != ReasonHidden {
		t.Fatalf("hidden channel: %+v", res)
	}

	f.track("c2", "owner2", func(ch *state.Channel) { ch.IsLocked = true })
	req := Request{GuildID: "g1", ChannelID: "c2", UserID: "u1"}
	if res := f.eval.Evaluate(context.Background(), req); res.Allowed() || res.Reason != ReasonLocked {
		t.Fatalf("locked channel: %+v", res)
	}

	f.track("c3", "owner3", nil)
	req = Request{GuildID: "g1", ChannelID: "c3", UserID: "u1"}
	if res := f.eval.Evaluate(context.Background(), req); !res.Allowed() || res.Reason != ReasonDefault {
		t.Fatalf("open channel: %+v", res)
	}
}

func TestEvaluate_DatabaseErrorFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.track("c1", "owner", nil)
	f.durable.permsErr = errors.New("db down")
	f.durable.wlErr = errors.New("db down")

	// Durables unavailable: the open channel still admits on raw state.
	res := f.eval.Evaluate(context.Background(), join("u1"))
	if !res.Allowed() || res.Reason != ReasonDefault {
		t.Fatalf("db failure should degrade to raw state: %+v", res)
	}
}
