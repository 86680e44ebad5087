// Package bridge is the single entry point callers use to get work into the
// pipeline. It validates, enqueues, and answers immediately with an honest
// estimate of when the work will run; callers that need the outcome block
// through SubmitAndWait. Nothing outside this package touches the queue or
// scheduler directly.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkaralis/go-voice-backend/internal/decision"
	"github.com/pkaralis/go-voice-backend/internal/governor"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/metrics"
	"github.com/pkaralis/go-voice-backend/internal/queue"
	"github.com/pkaralis/go-voice-backend/internal/scheduler"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// ErrWaitTimeout reports that an intent was accepted but did not reach a
// terminal state before the caller's deadline. The intent keeps running.
var ErrWaitTimeout = errors.New("bridge: timed out waiting for intent completion")

// ErrNilIntent is returned for a nil submission.
var ErrNilIntent = errors.New("bridge: nil intent")

// Receipt is the synchronous answer to a Submit call.
type Receipt struct {
	IntentID      string        `json:"intent_id"`
	Queued        bool          `json:"queued"`
	Reason        string        `json:"reason,omitempty"`
	EstimatedWait time.Duration `json:"-"`
	ETAText       string        `json:"eta,omitempty"`
}

// Outcome is the terminal result delivered to SubmitAndWait callers.
type Outcome struct {
	IntentID string
	Status   intent.Status
	Reason   string
	Message  string
}

// Stats is the pipeline-wide monitoring snapshot.
type Stats struct {
	QueueDepth    int     `json:"queue_depth"`
	QueueCapacity int     `json:"queue_capacity"`
	Pressure      float64 `json:"pressure"`
	Emergency     bool    `json:"emergency"`
	BreakerOpen   bool    `json:"breaker_open"`
	Processed     uint64  `json:"processed"`
	Failed        uint64  `json:"failed"`
	Dropped       uint64  `json:"dropped"`
	ActiveWorkers int     `json:"active_workers"`
}

// Bridge fronts the queue and scheduler for producers.
type Bridge struct {
	queue *queue.Queue
	sched *scheduler.Scheduler
	store *state.Store
	gov   *governor.Governor
	eta   *decision.Engine
	log   zerolog.Logger

	mu      sync.Mutex
	waiters map[string][]chan Outcome
}

// New wires the facade. Register OnComplete with the scheduler so waiters
// resolve.
func New(q *queue.Queue, sched *scheduler.Scheduler, store *state.Store,
	gov *governor.Governor, eta *decision.Engine, log zerolog.Logger) *Bridge {
	return &Bridge{
		queue:   q,
		sched:   sched,
		store:   store,
		gov:     gov,
		eta:     eta,
		log:     log.With().Str("component", "bridge").Logger(),
		waiters: make(map[string][]chan Outcome),
	}
}

// Submit admits an intent and returns immediately. A false Queued means the
// intent was dropped at the door; Reason says why.
func (b *Bridge) Submit(in *intent.Intent) (Receipt, error) {
	if in == nil {
		return Receipt{}, ErrNilIntent
	}

	if ok, reason := b.queue.Enqueue(in); !ok {
		in.Status = intent.StatusDropped
		return Receipt{
			IntentID: in.ID,
			Queued:   false,
			Reason:   string(reason),
		}, nil
	}

	b.store.AddPendingIntent(in.GuildID, 1)
	wait := b.queue.EstimateWait(in.Priority) + b.eta.EstimateExecutionTime(in)
	b.log.Debug().
		Str("intent_id", in.ID).
		Str("action", in.Action.String()).
		Str("guild_id", in.GuildID).
		Str("priority", in.Priority.String()).
		Dur("estimated_wait", wait).
		Msg("intent submitted")

	return Receipt{
		IntentID:      in.ID,
		Queued:        true,
		EstimatedWait: wait,
		ETAText:       decision.FormatETA(wait),
	}, nil
}

// SubmitAndWait admits an intent and blocks until it reaches a terminal
// state, the timeout elapses, or ctx is cancelled. On timeout the intent
// keeps running and the caller gets ErrWaitTimeout.
func (b *Bridge) SubmitAndWait(ctx context.Context, in *intent.Intent, timeout time.Duration) (Outcome, error) {
	if in == nil {
		return Outcome{}, ErrNilIntent
	}

	// Register before enqueueing so a fast completion cannot slip past.
	ch := make(chan Outcome, 1)
	b.mu.Lock()
	b.waiters[in.ID] = append(b.waiters[in.ID], ch)
	b.mu.Unlock()

	rcpt, err := b.Submit(in)
	if err != nil || !rcpt.Queued {
		b.unregister(in.ID, ch)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			IntentID: in.ID,
			Status:   intent.StatusDropped,
			Reason:   rcpt.Reason,
		}, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out, nil
	case <-timer.C:
		b.unregister(in.ID, ch)
		return Outcome{IntentID: in.ID}, ErrWaitTimeout
	case <-ctx.Done():
		b.unregister(in.ID, ch)
		return Outcome{IntentID: in.ID}, ctx.Err()
	}
}

// Cancel aborts an intent that has not started executing.
func (b *Bridge) Cancel(id string) bool {
	return b.sched.Cancel(id)
}

// OnComplete is the scheduler completion hook; it resolves any waiters
// registered for the intent.
func (b *Bridge) OnComplete(c scheduler.Completion) {
	b.mu.Lock()
	chans := b.waiters[c.Intent.ID]
	delete(b.waiters, c.Intent.ID)
	b.mu.Unlock()

	out := Outcome{
		IntentID: c.Intent.ID,
		Status:   c.Status,
		Reason:   c.Reason,
		Message:  c.Message,
	}
	for _, ch := range chans {
		ch <- out
	}
}

// Status reports where a submitted intent currently is. False when the
// pipeline no longer tracks it (terminal and evicted, or never seen).
func (b *Bridge) Status(id string) (Outcome, bool) {
	c, ok := b.sched.Lookup(id)
	if !ok {
		return Outcome{}, false
	}
	return Outcome{
		IntentID: id,
		Status:   c.Status,
		Reason:   c.Reason,
		Message:  c.Message,
	}, true
}

// DropHandler returns a queue.DropFunc that records drop metrics and logs.
// Wire it into the queue at startup, before the bridge exists.
func DropHandler(log zerolog.Logger) queue.DropFunc {
	return func(in *intent.Intent, reason queue.DropReason) {
		metrics.DroppedTotal.WithLabelValues(string(reason)).Inc()
		log.Debug().
			Str("intent_id", in.ID).
			Str("action", in.Action.String()).
			Str("reason", string(reason)).
			Msg("intent dropped at admission")
	}
}

// Stats assembles the monitoring snapshot from the live components.
func (b *Bridge) Stats() Stats {
	sys := b.store.System()
	ss := b.sched.Snapshot()
	return Stats{
		QueueDepth:    b.queue.Size(),
		QueueCapacity: b.queue.Capacity(),
		Pressure:      b.gov.Pressure(),
		Emergency:     b.gov.EmergencyActive(),
		BreakerOpen:   sys.CircuitBreakerOpen,
		Processed:     ss.Processed,
		Failed:        ss.Failed,
		Dropped:       ss.Dropped,
		ActiveWorkers: ss.Active,
	}
}

func (b *Bridge) unregister(id string, ch chan Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chans := b.waiters[id]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(b.waiters, id)
	} else {
		b.waiters[id] = chans
	}
}
