// Package transfer watches voice-channel membership and decides what happens
// to a managed channel when its owner leaves: hand it to the longest-present
// member after a short debounce, or delete it once it sits empty. The
// debounce absorbs the owner briefly hopping between channels; without it a
// reconnect would bounce ownership around.
//
// The manager never touches the platform itself. When a countdown fires it
// submits an intent through the pipeline, so transfers and deletions go
// through the same admission, rate, and locking discipline as every other
// mutation.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkaralis/go-voice-backend/internal/bridge"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// Submitter admits intents into the pipeline. *bridge.Bridge satisfies it.
type Submitter interface {
	Submit(in *intent.Intent) (bridge.Receipt, error)
}

// Phase is the per-channel machine state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePendingTransfer
	PhasePendingDeletion
)

func (p Phase) String() string {
	switch p {
	case PhasePendingTransfer:
		return "pending_transfer"
	case PhasePendingDeletion:
		return "pending_deletion"
	default:
		return "idle"
	}
}

// Config tunes the machine. Zero values are replaced by defaults.
type Config struct {
	Debounce  time.Duration // wait after owner departure before acting
	Staleness time.Duration // records untouched this long past fire are dropped
	Poll      time.Duration // countdown check period
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 3 * time.Second
	}
	if c.Staleness <= 0 {
		c.Staleness = 30 * time.Second
	}
	if c.Poll <= 0 {
		c.Poll = 250 * time.Millisecond
	}
	return c
}

type member struct {
	userID   string
	bot      bool
	joinedAt time.Time
}

type record struct {
	guildID   string
	channelID string
	ownerID   string
	phase     Phase
	fireAt    time.Time
	updatedAt time.Time
	members   []member // join order, oldest first
}

// Manager tracks membership for managed channels and runs the departure
// countdowns. Safe for concurrent use.
type Manager struct {
	cfg    Config
	store  *state.Store
	submit Submitter
	log    zerolog.Logger

	mu      sync.Mutex
	records map[string]*record // channel id -> record
}

// New builds a manager.
func New(cfg Config, store *state.Store, submit Submitter, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		store:   store,
		submit:  submit,
		log:     log.With().Str("component", "transfer").Logger(),
		records: make(map[string]*record),
	}
}

// Run drives the countdowns until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Poll)
	defer ticker.Stop()
	sweep := time.NewTicker(m.cfg.Staleness)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.fireDue(now)
		case now := <-sweep.C:
			m.sweepStale(now)
		}
	}
}

// OnMemberJoined records a join. Any non-bot join cancels a pending
// transfer countdown (a returning owner included); a join into a channel
// awaiting deletion turns the countdown into a transfer instead.
func (m *Manager) OnMemberJoined(guildID, channelID, userID string, isBot bool) {
	ch, ok := m.store.Channel(channelID)
	if !ok {
		return
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.recordLocked(guildID, channelID, ch.OwnerID)
	rec.updatedAt = now
	if !rec.hasMember(userID) {
		rec.members = append(rec.members, member{userID: userID, bot: isBot, joinedAt: now})
	}

	switch {
	case rec.phase != PhaseIdle && userID == rec.ownerID:
		m.log.Debug().
			Str("channel_id", channelID).
			Str("owner_id", userID).
			Msg("owner returned, countdown cancelled")
		rec.phase = PhaseIdle

	case rec.phase == PhasePendingTransfer && !isBot:
		// A fresh arrival changes who the longest-present candidate would
		// be mid-countdown; drop the transfer rather than guess.
		m.log.Debug().
			Str("channel_id", channelID).
			Str("user_id", userID).
			Msg("member joined during countdown, transfer cancelled")
		rec.phase = PhaseIdle

	case rec.phase == PhasePendingDeletion && !isBot:
		// Someone arrived before the empty channel was reaped; hand it to
		// them on the usual schedule instead.
		rec.phase = PhasePendingTransfer
		rec.fireAt = now.Add(m.cfg.Debounce)
	}
}

// OnMemberLeft records a departure. The owner leaving starts the transfer
// countdown.
func (m *Manager) OnMemberLeft(guildID, channelID, userID string) {
	ch, ok := m.store.Channel(channelID)
	if !ok {
		return
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.recordLocked(guildID, channelID, ch.OwnerID)
	rec.updatedAt = now
	rec.removeMember(userID)

	if userID == rec.ownerID && rec.phase == PhaseIdle {
		rec.phase = PhasePendingTransfer
		rec.fireAt = now.Add(m.cfg.Debounce)
		m.log.Debug().
			Str("channel_id", channelID).
			Str("owner_id", userID).
			Dur("debounce", m.cfg.Debounce).
			Msg("owner left, transfer countdown started")
	}
}

// OnChannelRemoved drops all tracking for a channel.
func (m *Manager) OnChannelRemoved(channelID string) {
	m.mu.Lock()
	delete(m.records, channelID)
	m.mu.Unlock()
}

// ChannelPhase reports the machine state for a channel, for monitoring.
func (m *Manager) ChannelPhase(channelID string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[channelID]; ok {
		return rec.phase
	}
	return PhaseIdle
}

// fireDue resolves every countdown whose debounce has elapsed. The candidate
// is chosen at fire time from the members actually still present, so a
// candidate who left during the debounce never receives ownership.
func (m *Manager) fireDue(now time.Time) {
	type action struct {
		in        *intent.Intent
		channelID string
	}
	var actions []action

	m.mu.Lock()
	for id, rec := range m.records {
		if rec.phase == PhaseIdle || now.Before(rec.fireAt) {
			continue
		}

		switch rec.phase {
		case PhasePendingTransfer:
			if cand, ok := rec.candidate(); ok {
				in := intent.New(intent.ActionTransferOwnership, rec.guildID,
					intent.ResourceChannel, rec.channelID,
					intent.TransferPayload{NewOwnerID: cand, OldOwnerID: rec.ownerID},
					intent.Source{Kind: intent.SourceSystem})
				actions = append(actions, action{in: in, channelID: id})
				rec.phase = PhaseIdle
				rec.ownerID = cand
			} else {
				// Nobody eligible is left; give the channel one more debounce
				// before reaping it.
				rec.phase = PhasePendingDeletion
				rec.fireAt = now.Add(m.cfg.Debounce)
			}
			rec.updatedAt = now

		case PhasePendingDeletion:
			if len(rec.members) == 0 {
				in := intent.New(intent.ActionDeleteChannel, rec.guildID,
					intent.ResourceChannel, rec.channelID,
					intent.DeleteChannelPayload{Reason: "owner left, channel empty"},
					intent.Source{Kind: intent.SourceSystem})
				actions = append(actions, action{in: in, channelID: id})
				delete(m.records, id)
			} else {
				// Bots only; nothing to transfer to, nothing to reap yet.
				rec.phase = PhaseIdle
				rec.updatedAt = now
			}
		}
	}
	m.mu.Unlock()

	for _, a := range actions {
		if rcpt, err := m.submit.Submit(a.in); err != nil {
			m.log.Error().Err(err).
				Str("channel_id", a.channelID).
				Str("action", a.in.Action.String()).
				Msg("countdown intent rejected")
		} else if !rcpt.Queued {
			m.log.Warn().
				Str("channel_id", a.channelID).
				Str("action", a.in.Action.String()).
				Str("reason", rcpt.Reason).
				Msg("countdown intent dropped")
		}
	}
}

// sweepStale drops records for channels the store no longer tracks and
// countdowns that somehow never fired.
func (m *Manager) sweepStale(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if _, ok := m.store.Channel(id); !ok {
			delete(m.records, id)
			continue
		}
		if rec.phase != PhaseIdle && now.Sub(rec.updatedAt) > m.cfg.Staleness {
			m.log.Warn().
				Str("channel_id", id).
				Str("phase", rec.phase.String()).
				Msg("stale countdown dropped")
			delete(m.records, id)
		}
	}
}

func (m *Manager) recordLocked(guildID, channelID, ownerID string) *record {
	rec, ok := m.records[channelID]
	if !ok {
		rec = &record{guildID: guildID, channelID: channelID, ownerID: ownerID}
		m.records[channelID] = rec
	}
	// A completed transfer changes the owner out from under the record.
	rec.ownerID = ownerID
	return rec
}

func (r *record) hasMember(userID string) bool {
	for _, mb := range r.members {
		if mb.userID == userID {
			return true
		}
	}
	return false
}

func (r *record) removeMember(userID string) {
	for i, mb := range r.members {
		if mb.userID == userID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return
		}
	}
}

// candidate picks the longest-present non-bot member who is not the
// departed owner.
func (r *record) candidate() (string, bool) {
	for _, mb := range r.members {
		if mb.bot || mb.userID == r.ownerID {
			continue
		}
		return mb.userID, true
	}
	return "", false
}
