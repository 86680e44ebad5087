package state

import (
	"errors"
	"testing"
	"time"
)

func newStore() *Store { return New(10 * time.Minute) }

// --- channels & owner index ---

func TestPutChannel_MaintainsOwnerIndex(t *testing.T) {
	s := newStore()
	if err := s.PutChannel(&Channel{ChannelID: "c1", GuildID: "g1", OwnerID: "u1"}); err != nil {
		t.Fatalf("PutChannel: %v", err)
	}

	ch, ok := s.ChannelByOwner("g1", "u1")
	if !ok || ch.ChannelID != "c1" {
		t.Fatalf("ChannelByOwner = %+v, %v", ch, ok)
	}
}

func TestPutChannel_RejectsSecondChannelForOwner(t *testing.T) {
	s := newStore()
	_ = s.PutChannel(&Channel{ChannelID: "c1", GuildID: "g1", OwnerID: "u1"})

	err := s.PutChannel(&Channel{ChannelID: "c2", GuildID: "g1", OwnerID: "u1"})
	if !errors.Is(err, ErrOwnerTaken) {
		t.Fatalf("second channel for same owner: err = %v, want ErrOwnerTaken", err)
	}

	// Same owner may hold one channel per guild though.
	if err := s.PutChannel(&Channel{ChannelID: "c3", GuildID: "g2", OwnerID: "u1"}); err != nil {
		t.Fatalf("same owner in another guild: %v", err)
	}
}

func TestPutChannel_UpdateSameChannelIsFine(t *testing.T) {
	s := newStore()
	_ = s.PutChannel(&Channel{ChannelID: "c1", GuildID: "g1", OwnerID: "u1", Name: "old"})
	if err := s.PutChannel(&Channel{ChannelID: "c1", GuildID: "g1", OwnerID: "u1", Name: "new"}); err != nil {
		t.Fatalf("updating a tracked channel: %v", err)
	}
	ch, _ := s.Channel("c1")
	if ch.Name != "new" {
		t.Fatalf("update not applied: %+v", ch)
	}
}

func TestRemoveChannel_ClearsIndexAndTempAccess(t *testing.T) {
	s := newStore()
	_ = s.PutChannel(&Channel{ChannelID: "c1", GuildID: "g1", OwnerID: "u1"})
	s.SetTempAccess("c1", "u2", true)

	s.RemoveChannel("c1")

	if _, ok := s.Channel("c1"); ok {
		t.Fatalf("channel should be gone")
	}
	if _, ok := s.ChannelByOwner("g1", "u1"); ok {
		t.Fatalf("owner index entry should be gone")
	}
	if _, present := s.TempAccess("c1", "u2"); present {
		t.Fatalf("temp access should be cleared with the channel")
	}
	// The owner is free to get a new channel immediately.
	if err := s.PutChannel(&Channel{ChannelID: "c2", GuildID: "g1", OwnerID: "u1"}); err != nil {
		t.Fatalf("owner should be free after removal: %v", err)
	}
}

func TestSetOwner_RebindsAtomically(t *testing.T) {
	s := newStore()
	_ = s.PutChannel(&Channel{ChannelID: "c1", GuildID: "g1", OwnerID: "u1"})

	if err := s.SetOwner("c1", "u2"); err != nil {
		t.Fatalf("SetOwner: %v", err)
	}
	ch, _ := s.Channel("c1")
	if ch.OwnerID != "u2" {
		t.Fatalf("owner not updated: %+v", ch)
	}
	if _, ok := s.ChannelByOwner("g1", "u1"); ok {
		t.Fatalf("old owner index entry must be dropped")
	}
	got, ok := s.ChannelByOwner("g1", "u2")
	if !ok || got.ChannelID != "c1" {
		t.Fatalf("new owner index entry missing")
	}
}

func TestSetOwner_Errors(t *testing.T) {
	s := newStore()
	_ = s.PutChannel(&Channel{ChannelID: "c1", GuildID: "g1", OwnerID: "u1"})
	_ = s.PutChannel(&Channel{ChannelID: "c2", GuildID: "g1", OwnerID: "u2"})

	if err := s.SetOwner("c1", "u2"); !errors.Is(err, ErrOwnerTaken) {
		t.Fatalf("rebind to busy owner: err = %v, want ErrOwnerTaken", err)
	}
	if err := s.SetOwner("ghost", "u3"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("rebind of untracked channel: err = %v, want ErrUnknownChannel", err)
	}
	// Transferring to the current owner is a no-op, not an error.
	if err := s.SetOwner("c1", "u1"); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
}

func TestSetOperationPending(t *testing.T) {
	s := newStore()
	_ = s.PutChannel(&Channel{ChannelID: "c1", GuildID: "g1", OwnerID: "u1"})

	s.SetOperationPending("c1", true)
	if ch, _ := s.Channel("c1"); !ch.OperationPending {
		t.Fatalf("pending flag not set")
	}
	s.SetOperationPending("c1", false)
	if ch, _ := s.Channel("c1"); ch.OperationPending {
		t.Fatalf("pending flag not cleared")
	}
}

// --- guilds ---

func TestGuild_PendingIntentFloor(t *testing.T) {
	s := newStore()
	s.AddPendingIntent("g1", 2)
	s.AddPendingIntent("g1", -5)
	if got := s.Guild("g1").PendingIntents; got != 0 {
		t.Fatalf("pending intents = %d, want floor at 0", got)
	}
}

func TestDecayGuilds_ClearsIdleGuildsOnly(t *testing.T) {
	s := New(time.Minute)
	s.SetRaidMode("busy", true)
	s.BumpEventPressure("busy", 20)
	s.SetRaidMode("idle", true)
	s.BumpEventPressure("idle", 20)

	// Backdate the idle guild past the exit window.
	s.mu.Lock()
	s.guilds["idle"].LastActivity = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	s.DecayGuilds(time.Now())

	if g := s.Guild("busy"); !g.RaidMode || g.EventPressure != 20 {
		t.Fatalf("active guild must not decay: %+v", g)
	}
	if g := s.Guild("idle"); g.RaidMode || g.EventPressure != 0 {
		t.Fatalf("idle guild must decay: %+v", g)
	}
}

// --- blocks, grants, temp access ---

func TestBlocks_ExpiryAndLift(t *testing.T) {
	s := newStore()
	s.BlockUser("g1", "u1", "spam", nil)
	if !s.IsBlocked("g1", "u1") {
		t.Fatalf("permanent block not observed")
	}

	past := time.Now().Add(-time.Second)
	s.BlockUser("g1", "u2", "spam", &past)
	if s.IsBlocked("g1", "u2") {
		t.Fatalf("expired block must not bind")
	}

	s.UnblockUser("g1", "u1")
	if s.IsBlocked("g1", "u1") {
		t.Fatalf("lifted block must not bind")
	}
}

func TestGrants_ScopedToOwner(t *testing.T) {
	s := newStore()
	s.GrantPermanent("g1", "owner", "friend")
	if !s.HasPermanentGrant("g1", "owner", "friend") {
		t.Fatalf("grant not observed")
	}
	if s.HasPermanentGrant("g1", "other", "friend") {
		t.Fatalf("grant must be scoped to the issuing owner")
	}
	s.RevokePermanent("g1", "owner", "friend")
	if s.HasPermanentGrant("g1", "owner", "friend") {
		t.Fatalf("revoked grant must not bind")
	}
}

func TestTempAccess(t *testing.T) {
	s := newStore()
	s.SetTempAccess("c1", "u1", true)
	s.SetTempAccess("c1", "u2", false)

	if allow, ok := s.TempAccess("c1", "u1"); !ok || !allow {
		t.Fatalf("permit not observed")
	}
	if allow, ok := s.TempAccess("c1", "u2"); !ok || allow {
		t.Fatalf("ban not observed")
	}
	s.ClearTempAccess("c1", "u1")
	if _, ok := s.TempAccess("c1", "u1"); ok {
		t.Fatalf("cleared entry must be absent")
	}
}

// --- system ---

func TestUpdateSystem(t *testing.T) {
	s := newStore()
	s.UpdateSystem(func(sys *System) {
		sys.RatePressure = 42
		sys.CircuitBreakerOpen = true
	})
	sys := s.System()
	if sys.RatePressure != 42 || !sys.CircuitBreakerOpen {
		t.Fatalf("system snapshot = %+v", sys)
	}
}
