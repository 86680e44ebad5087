// Package state holds the authoritative in-memory mirror of system, guild,
// and channel state the pipeline decides against. The store is the hot-path
// source of truth; the durable store (internal/repo) is only consulted for
// hydration after a restart and for persistence of completed mutations.
//
// Concurrency: the store is shared between the single scheduler loop and
// worker completion callbacks, so every mutation takes the store lock. The
// owner→channel index is maintained inside the same critical section as the
// channel map, so the one-channel-per-owner invariant can never be observed
// half-updated.
package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/pkaralis/go-voice-backend/internal/repo"
)

// Channel mirrors the live state of one managed voice channel.
type Channel struct {
	ChannelID        string
	GuildID          string
	OwnerID          string
	Name             string
	IsLocked         bool
	IsHidden         bool
	UserLimit        int
	IsTeamChannel    bool
	TeamType         string
	OperationPending bool
	LastModified     time.Time
}

// Guild mirrors per-guild pressure and pause state.
type Guild struct {
	Paused         bool
	AdminStrict    bool
	RaidMode       bool
	EventPressure  float64
	PendingIntents int
	LastActivity   time.Time
}

// System is the pipeline-wide health snapshot. It is mutated only by the
// rate governor (pressure, breaker) and the scheduler (depth, workers).
type System struct {
	RatePressure       float64
	DefenseMode        bool
	QueueDepth         int
	ActiveWorkers      int
	CircuitBreakerOpen bool
}

type block struct {
	reason    string
	expiresAt *time.Time
}

// Store is the in-memory state mirror. The zero value is not usable; call New.
type Store struct {
	mu sync.RWMutex

	system   System
	guilds   map[string]*Guild
	channels map[string]*Channel
	// ownerIndex maps guildID -> ownerID -> channelID. Updated atomically
	// with the channels map; at most one entry per (guild, owner).
	ownerIndex map[string]map[string]string

	blocks map[string]map[string]block           // guild -> user -> block
	grants map[string]map[string]map[string]bool // guild -> owner -> user
	// temp permits/bans are channel-scoped and in-memory only.
	tempAccess map[string]map[string]bool // channel -> user -> allow

	raidExitAfter time.Duration
}

// New returns an empty store. raidExitAfter is the guild inactivity window
// after which raid mode clears and event pressure decays to zero.
func New(raidExitAfter time.Duration) *Store {
	return &Store{
		guilds:        make(map[string]*Guild),
		channels:      make(map[string]*Channel),
		ownerIndex:    make(map[string]map[string]string),
		blocks:        make(map[string]map[string]block),
		grants:        make(map[string]map[string]map[string]bool),
		tempAccess:    make(map[string]map[string]bool),
		raidExitAfter: raidExitAfter,
	}
}

// Hydrate loads channels, guild settings, permanent grants, and user blocks
// from the durable store. Called once at startup before the scheduler runs.
func (s *Store) Hydrate(ctx context.Context, db *gorm.DB) error {
	channels, err := repo.ListChannels(ctx, db)
	if err != nil {
		return err
	}
	settings, err := repo.ListGuildSettings(ctx, db)
	if err != nil {
		return err
	}
	grants, err := repo.ListGrants(ctx, db)
	if err != nil {
		return err
	}
	blocks, err := repo.ListBlocks(ctx, db, time.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range channels {
		ch := &channels[i]
		s.putChannelLocked(&Channel{
			ChannelID:     ch.ID,
			GuildID:       ch.GuildID,
			OwnerID:       ch.OwnerID,
			Name:          ch.Name,
			IsLocked:      ch.IsLocked,
			IsHidden:      ch.IsHidden,
			UserLimit:     ch.UserLimit,
			IsTeamChannel: ch.IsTeamChannel,
			TeamType:      ch.TeamType,
			LastModified:  ch.UpdatedAt,
		})
	}
	for i := range settings {
		gs := &settings[i]
		g := s.guildLocked(gs.GuildID)
		g.Paused = gs.Paused
		g.AdminStrict = gs.AdminStrict
	}
	for i := range grants {
		gr := &grants[i]
		s.grantLocked(gr.GuildID, gr.OwnerID, gr.UserID)
	}
	for i := range blocks {
		b := &blocks[i]
		if s.blocks[b.GuildID] == nil {
			s.blocks[b.GuildID] = make(map[string]block)
		}
		s.blocks[b.GuildID][b.UserID] = block{reason: b.Reason, expiresAt: b.ExpiresAt}
	}
	return nil
}

// --- channels & owner index ---

// ErrOwnerTaken is returned when the owner already has a different channel
// in the guild. Violating the index silently would be a correctness bug, so
// callers must handle it.
var ErrOwnerTaken = errors.New("owner already has a channel in this guild")

// ErrUnknownChannel is returned when a channel is not tracked by the store.
var ErrUnknownChannel = errors.New("channel not tracked")

func (s *Store) putChannelLocked(ch *Channel) error {
	if idx := s.ownerIndex[ch.GuildID]; idx != nil {
		if existing, ok := idx[ch.OwnerID]; ok && existing != ch.ChannelID {
			return ErrOwnerTaken
		}
	}
	if prev, ok := s.channels[ch.ChannelID]; ok && prev.OwnerID != ch.OwnerID {
		// Replacing a channel under a new owner: drop the stale index entry.
		delete(s.ownerIndex[prev.GuildID], prev.OwnerID)
	}
	s.channels[ch.ChannelID] = ch
	if s.ownerIndex[ch.GuildID] == nil {
		s.ownerIndex[ch.GuildID] = make(map[string]string)
	}
	s.ownerIndex[ch.GuildID][ch.OwnerID] = ch.ChannelID
	return nil
}

// PutChannel inserts or updates a channel, maintaining the owner index
// atomically. Returns ErrOwnerTaken if the owner already has another channel.
func (s *Store) PutChannel(ch *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putChannelLocked(ch)
}

// RemoveChannel deletes a channel and its owner index entry.
func (s *Store) RemoveChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return
	}
	delete(s.channels, channelID)
	if idx := s.ownerIndex[ch.GuildID]; idx != nil && idx[ch.OwnerID] == channelID {
		delete(idx, ch.OwnerID)
	}
	delete(s.tempAccess, channelID)
}

// Channel returns a copy of the channel state, if tracked.
func (s *Store) Channel(channelID string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// ChannelByOwner returns the channel owned by ownerID in the guild, if any.
func (s *Store) ChannelByOwner(guildID, ownerID string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.ownerIndex[guildID]
	if idx == nil {
		return Channel{}, false
	}
	id, ok := idx[ownerID]
	if !ok {
		return Channel{}, false
	}
	ch, ok := s.channels[id]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// SetOwner atomically rebinds a channel to a new owner, updating the owner
// index in the same critical section. Returns ErrOwnerTaken if the new owner
// already has a different channel, ErrUnknownChannel if untracked.
func (s *Store) SetOwner(channelID, newOwnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return ErrUnknownChannel
	}
	idx := s.ownerIndex[ch.GuildID]
	if existing, taken := idx[newOwnerID]; taken && existing != channelID {
		return ErrOwnerTaken
	}
	delete(idx, ch.OwnerID)
	ch.OwnerID = newOwnerID
	ch.LastModified = time.Now()
	idx[newOwnerID] = channelID
	return nil
}

// UpdateChannel applies fn to the tracked channel under the store lock.
func (s *Store) UpdateChannel(channelID string, fn func(*Channel)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return false
	}
	fn(ch)
	ch.LastModified = time.Now()
	return true
}

// SetOperationPending flags a channel as having an in-flight mutation.
func (s *Store) SetOperationPending(channelID string, pending bool) {
	s.UpdateChannel(channelID, func(ch *Channel) { ch.OperationPending = pending })
}

// ChannelCount returns the number of tracked channels.
func (s *Store) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// --- guilds ---

func (s *Store) guildLocked(guildID string) *Guild {
	g, ok := s.guilds[guildID]
	if !ok {
		g = &Guild{LastActivity: time.Now()}
		s.guilds[guildID] = g
	}
	return g
}

// Guild returns a copy of the guild state, creating a default entry if the
// guild was never seen.
func (s *Store) Guild(guildID string) Guild {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.guildLocked(guildID)
}

// SetGuildPaused pauses or resumes all channel mutations for a guild.
func (s *Store) SetGuildPaused(guildID string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guildLocked(guildID).Paused = paused
}

// SetGuildStrict toggles admin strictness for a guild.
func (s *Store) SetGuildStrict(guildID string, strict bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guildLocked(guildID).AdminStrict = strict
}

// SetRaidMode enables or disables raid mode for a guild.
func (s *Store) SetRaidMode(guildID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.guildLocked(guildID)
	g.RaidMode = on
	g.LastActivity = time.Now()
}

// BumpEventPressure adds to a guild's event pressure and marks it active.
func (s *Store) BumpEventPressure(guildID string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.guildLocked(guildID)
	g.EventPressure += delta
	g.LastActivity = time.Now()
}

// AddPendingIntent adjusts a guild's pending-intent count (delta may be
// negative).
func (s *Store) AddPendingIntent(guildID string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.guildLocked(guildID)
	g.PendingIntents += delta
	if g.PendingIntents < 0 {
		g.PendingIntents = 0
	}
	g.LastActivity = time.Now()
}

// DecayGuilds decays event pressure toward zero and exits raid mode for
// guilds idle past the inactivity window. Called from the scheduler tick.
func (s *Store) DecayGuilds(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.guilds {
		if now.Sub(g.LastActivity) < s.raidExitAfter {
			continue
		}
		g.EventPressure = 0
		g.RaidMode = false
	}
}

// --- blocks, grants, temp access ---

// BlockUser records a guild-wide block.
func (s *Store) BlockUser(guildID, userID, reason string, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocks[guildID] == nil {
		s.blocks[guildID] = make(map[string]block)
	}
	s.blocks[guildID][userID] = block{reason: reason, expiresAt: expiresAt}
}

// UnblockUser lifts a guild-wide block.
func (s *Store) UnblockUser(guildID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks[guildID], userID)
}

// IsBlocked reports whether userID is globally blocked in the guild.
func (s *Store) IsBlocked(guildID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[guildID][userID]
	if !ok {
		return false
	}
	if b.expiresAt != nil && time.Now().After(*b.expiresAt) {
		return false
	}
	return true
}

func (s *Store) grantLocked(guildID, ownerID, userID string) {
	if s.grants[guildID] == nil {
		s.grants[guildID] = make(map[string]map[string]bool)
	}
	if s.grants[guildID][ownerID] == nil {
		s.grants[guildID][ownerID] = make(map[string]bool)
	}
	s.grants[guildID][ownerID][userID] = true
}

// GrantPermanent records an owner-issued permanent access grant.
func (s *Store) GrantPermanent(guildID, ownerID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantLocked(guildID, ownerID, userID)
}

// RevokePermanent removes a permanent access grant.
func (s *Store) RevokePermanent(guildID, ownerID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.grants[guildID][ownerID]; m != nil {
		delete(m, userID)
	}
}

// HasPermanentGrant reports whether ownerID granted userID permanent access.
func (s *Store) HasPermanentGrant(guildID, ownerID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[guildID][ownerID][userID]
}

// SetTempAccess records an in-memory temporary permit (allow=true) or ban
// (allow=false) for a user on a channel.
func (s *Store) SetTempAccess(channelID, userID string, allow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tempAccess[channelID] == nil {
		s.tempAccess[channelID] = make(map[string]bool)
	}
	s.tempAccess[channelID][userID] = allow
}

// ClearTempAccess removes a temporary permit/ban.
func (s *Store) ClearTempAccess(channelID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.tempAccess[channelID]; m != nil {
		delete(m, userID)
	}
}

// TempAccess returns (allow, present) for a user's temporary permit/ban.
func (s *Store) TempAccess(channelID, userID string) (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allow, ok := s.tempAccess[channelID][userID]
	return allow, ok
}

// --- system ---

// System returns a copy of the system-wide health snapshot.
func (s *Store) System() System {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system
}

// UpdateSystem applies fn to the system snapshot under the store lock.
func (s *Store) UpdateSystem(fn func(*System)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.system)
}
