// Package scheduler drives the pipeline: a single cooperative tick loop
// owns all queue, decision, and dispatch logic, while execution happens in a
// bounded pool of worker goroutines. No two ticks overlap, so every
// check-then-act sequence inside a tick is atomic from the loop's
// perspective; workers touch shared state only through the concurrency-safe
// store, governor, and lock manager.
//
// Per tick the loop (a) promotes scheduled intents whose execute time has
// arrived (most urgent first) into free worker slots, (b) pulls a bounded
// batch of new intents from the queue and runs them through the decision
// engine, and (c) sweeps scheduled intents past their TTL. A saturated pool
// defers promotion to the next tick instead of dropping work.
//
// Retries are one mechanism, not many: a retryable failure stamps
// NextRetryAt on the intent and re-admits it through the same queue; no
// side timers exist to leak on crash.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkaralis/go-voice-backend/internal/decision"
	"github.com/pkaralis/go-voice-backend/internal/executors"
	"github.com/pkaralis/go-voice-backend/internal/governor"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/keys"
	"github.com/pkaralis/go-voice-backend/internal/lock"
	"github.com/pkaralis/go-voice-backend/internal/metrics"
	"github.com/pkaralis/go-voice-backend/internal/queue"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

// Executor runs one intent to completion. Implemented by executors.Registry;
// faked in tests.
type Executor interface {
	Execute(ctx context.Context, in *intent.Intent) executors.Result
}

// Completion is the terminal notification delivered for every intent that
// entered the scheduler.
type Completion struct {
	Intent  *intent.Intent
	Status  intent.Status
	Reason  string
	Message string
	Result  executors.Result
}

// CompletionFunc observes terminal intents (the bridge resolves waiters
// through it).
type CompletionFunc func(Completion)

// Config tunes the loop. Zero values are replaced by defaults.
type Config struct {
	Tick         time.Duration // loop period
	Workers      int           // dispatch concurrency cap
	BatchSize    int           // max queue pulls per tick
	LockDuration time.Duration // resource lock TTL per execution
	BackoffBase  time.Duration // transient-retry backoff base
	BackoffCap   time.Duration // transient-retry backoff ceiling
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 50 * time.Millisecond
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	return c
}

type scheduledItem struct {
	in        *intent.Intent
	executeAt time.Time
}

// Scheduler is the single-loop dispatcher. Run it once; Submit-side
// components interact only through the queue and Cancel.
type Scheduler struct {
	cfg        Config
	queue      *queue.Queue
	engine     *decision.Engine
	store      *state.Store
	gov        *governor.Governor
	locks      *lock.Manager
	exec       Executor
	log        zerolog.Logger
	onComplete CompletionFunc

	mu        sync.Mutex
	scheduled map[string]*scheduledItem
	cancelled map[string]bool
	executing map[string]*intent.Intent
	recent    map[string]Completion
	recentIDs []string

	active    atomic.Int64
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	ticks uint64
}

// New builds a scheduler. onComplete may be nil.
func New(cfg Config, q *queue.Queue, engine *decision.Engine, store *state.Store,
	gov *governor.Governor, locks *lock.Manager, exec Executor,
	log zerolog.Logger, onComplete CompletionFunc) *Scheduler {
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		queue:      q,
		engine:     engine,
		store:      store,
		gov:        gov,
		locks:      locks,
		exec:       exec,
		log:        log.With().Str("component", "scheduler").Logger(),
		onComplete: onComplete,
		scheduled:  make(map[string]*scheduledItem),
		cancelled:  make(map[string]bool),
		executing:  make(map[string]*intent.Intent),
		recent:     make(map[string]Completion),
	}
}

// Run drives the tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	s.log.Info().
		Dur("tick", s.cfg.Tick).
		Int("workers", s.cfg.Workers).
		Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Cancel aborts an intent that has not started executing. Returns false if
// the intent is unknown or already dispatched to a worker.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.scheduled[id]; ok {
		delete(s.scheduled, id)
		s.finishLocked(it.in, intent.StatusCancelled, "cancelled", "", executors.Result{})
		return true
	}
	if s.queue.Has(id) {
		// Still queued; mark it so the pull phase terminates it.
		s.cancelled[id] = true
		return true
	}
	return false
}

// Stats is the monitoring snapshot of lifetime counters.
type Stats struct {
	Processed uint64
	Failed    uint64
	Dropped   uint64
	Active    int
	Scheduled int
}

// Snapshot returns current counters.
func (s *Scheduler) Snapshot() Stats {
	s.mu.Lock()
	n := len(s.scheduled)
	s.mu.Unlock()
	return Stats{
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
		Active:    int(s.active.Load()),
		Scheduled: n,
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.sweepExpired(now)
	s.promote(ctx, now)
	s.pull(now)
	s.housekeep(now)
}

// sweepExpired terminates scheduled intents whose TTL passed while waiting.
func (s *Scheduler) sweepExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, it := range s.scheduled {
		if it.in.Expired(now) {
			delete(s.scheduled, id)
			s.finishLocked(it.in, intent.StatusExpired, "ttl_elapsed", "", executors.Result{})
		}
	}
}

// promote dispatches due scheduled intents into free worker slots, most
// urgent first (priority, then schedule time).
func (s *Scheduler) promote(ctx context.Context, now time.Time) {
	free := s.cfg.Workers - int(s.active.Load())
	if free <= 0 {
		return
	}

	s.mu.Lock()
	due := make([]*scheduledItem, 0, free)
	for _, it := range s.scheduled {
		if !it.executeAt.After(now) {
			due = append(due, it)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].in.Priority != due[j].in.Priority {
			return due[i].in.Priority < due[j].in.Priority
		}
		return due[i].executeAt.Before(due[j].executeAt)
	})
	if len(due) > free {
		due = due[:free]
	}

	for _, it := range due {
		lockKey := keys.Lock(it.in.GuildID, it.in.ResourceType, it.in.ResourceID)
		if !s.locks.Acquire(lockKey, it.in.ID, s.cfg.LockDuration, it.in.Action.String()) {
			// Lost the lock race; try again next tick.
			continue
		}
		delete(s.scheduled, it.in.ID)
		s.dispatchLocked(ctx, it.in, lockKey)
	}
	s.mu.Unlock()
}

// pull admits a bounded batch of queued intents through the decision engine.
func (s *Scheduler) pull(now time.Time) {
	for i := 0; i < s.cfg.BatchSize; i++ {
		in := s.queue.Dequeue()
		if in == nil {
			return
		}

		s.mu.Lock()
		if s.cancelled[in.ID] {
			delete(s.cancelled, in.ID)
			s.finishLocked(in, intent.StatusCancelled, "cancelled", "", executors.Result{})
			s.mu.Unlock()
			continue
		}

		// Retry re-admissions are re-scheduled at their stamped time without
		// a fresh decision; the decision that approved them still stands.
		if in.Status == intent.StatusRetryScheduled && in.NextRetryAt != nil {
			in.Status = intent.StatusScheduled
			s.scheduled[in.ID] = &scheduledItem{in: in, executeAt: *in.NextRetryAt}
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		d := s.engine.Decide(in, now)
		s.mu.Lock()
		if !d.Execute {
			status := intent.StatusDropped
			if d.Reason == decision.ReasonExpired {
				status = intent.StatusExpired
			}
			s.finishLocked(in, status, string(d.Reason), d.Message, executors.Result{})
			s.mu.Unlock()
			continue
		}
		in.Status = intent.StatusScheduled
		s.scheduled[in.ID] = &scheduledItem{in: in, executeAt: now.Add(d.Delay)}
		s.mu.Unlock()
	}
}

// dispatchLocked hands an intent to a worker goroutine. Caller holds s.mu.
func (s *Scheduler) dispatchLocked(ctx context.Context, in *intent.Intent, lockKey string) {
	in.Status = intent.StatusExecuting
	in.Attempts++
	s.executing[in.ID] = in
	s.active.Add(1)
	metrics.ActiveWorkers.Set(float64(s.active.Load()))
	if in.ResourceType == intent.ResourceChannel {
		s.store.SetOperationPending(in.ResourceID, true)
	}

	go func() {
		res := s.exec.Execute(ctx, in)
		s.complete(in, lockKey, res)
	}()
}

// complete applies a worker's result: terminal bookkeeping or retry
// re-admission. Runs on the worker goroutine; all state mutations go
// through the mutex-guarded helpers.
func (s *Scheduler) complete(in *intent.Intent, lockKey string, res executors.Result) {
	defer func() {
		s.locks.Release(lockKey, in.ID)
		if in.ResourceType == intent.ResourceChannel {
			s.store.SetOperationPending(in.ResourceID, false)
		}
		s.active.Add(-1)
		metrics.ActiveWorkers.Set(float64(s.active.Load()))
	}()

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.executing, in.ID)

	switch {
	case res.OK:
		s.finishLocked(in, intent.StatusCompleted, "ok", res.Message, res)

	case res.Class == executors.ClassExpired:
		s.finishLocked(in, intent.StatusExpired, res.Reason, res.Message, res)

	case res.Retryable() && in.RetryBudgetLeft():
		delay := s.retryDelay(in, res)
		retryAt := now.Add(delay)
		if retryAt.After(in.ExpiresAt) {
			// Fail loudly rather than let the intent vanish into a retry it
			// can never run.
			s.finishLocked(in, intent.StatusFailed, "retry_would_exceed_ttl", res.Message, res)
			return
		}
		in.Status = intent.StatusRetryScheduled
		in.NextRetryAt = &retryAt
		s.queue.Requeue(in)
		s.log.Debug().
			Str("intent_id", in.ID).
			Str("action", in.Action.String()).
			Int("attempts", in.Attempts).
			Dur("delay", delay).
			Str("class", res.Class.String()).
			Msg("retry scheduled")

	default:
		s.finishLocked(in, intent.StatusFailed, res.Reason, res.Message, res)
	}
}

// retryDelay picks the wait before the next attempt: the server-mandated
// cooldown for rate limits, exponential backoff otherwise.
func (s *Scheduler) retryDelay(in *intent.Intent, res executors.Result) time.Duration {
	if res.Class == executors.ClassRateLimited && res.RetryAfter > 0 {
		return res.RetryAfter
	}
	d := s.cfg.BackoffBase << uint(in.Attempts)
	if d > s.cfg.BackoffCap || d <= 0 {
		d = s.cfg.BackoffCap
	}
	return d
}

// finishLocked records a terminal status and notifies the completion
// observer. Caller holds s.mu.
func (s *Scheduler) finishLocked(in *intent.Intent, status intent.Status, reason, message string, res executors.Result) {
	in.Status = status
	s.queue.Complete(in.ID)
	delete(s.cancelled, in.ID)
	s.store.AddPendingIntent(in.GuildID, -1)

	switch status {
	case intent.StatusCompleted:
		s.processed.Add(1)
	case intent.StatusFailed:
		s.failed.Add(1)
	default:
		s.dropped.Add(1)
	}
	metrics.IntentsTotal.WithLabelValues(in.Action.String(), status.String()).Inc()
	metrics.IntentDuration.WithLabelValues(in.Action.String()).
		Observe(time.Since(in.CreatedAt).Seconds())

	ev := s.log.Debug()
	if status == intent.StatusFailed {
		ev = s.log.Warn()
	}
	ev.Str("intent_id", in.ID).
		Str("action", in.Action.String()).
		Str("status", status.String()).
		Str("reason", reason).
		Str("trace_id", in.TraceID).
		Msg("intent finished")

	c := Completion{Intent: in, Status: status, Reason: reason, Message: message, Result: res}
	s.rememberLocked(c)
	if s.onComplete != nil {
		// Deliver off-loop; waiters may do arbitrary work.
		go s.onComplete(c)
	}
}

const recentCap = 512

// rememberLocked keeps a bounded cache of terminal outcomes so status
// lookups work for a while after completion. Caller holds s.mu.
func (s *Scheduler) rememberLocked(c Completion) {
	if _, ok := s.recent[c.Intent.ID]; !ok {
		s.recentIDs = append(s.recentIDs, c.Intent.ID)
	}
	s.recent[c.Intent.ID] = c
	for len(s.recentIDs) > recentCap {
		delete(s.recent, s.recentIDs[0])
		s.recentIDs = s.recentIDs[1:]
	}
}

// Lookup reports where an intent currently is: queued, scheduled, executing,
// or recently finished. False when the intent is unknown.
func (s *Scheduler) Lookup(id string) (Completion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.executing[id]; ok {
		return Completion{Intent: in, Status: intent.StatusExecuting}, true
	}
	if it, ok := s.scheduled[id]; ok {
		return Completion{Intent: it.in, Status: it.in.Status}, true
	}
	if c, ok := s.recent[id]; ok {
		return c, true
	}
	if s.queue.Has(id) {
		return Completion{Status: intent.StatusPending}, true
	}
	return Completion{}, false
}

// housekeep refreshes gauges and runs the periodic sweeps.
func (s *Scheduler) housekeep(now time.Time) {
	depth := s.queue.Size()
	s.store.UpdateSystem(func(sys *state.System) {
		sys.QueueDepth = depth
		sys.ActiveWorkers = int(s.active.Load())
	})
	metrics.QueueDepth.Set(float64(depth))
	metrics.RatePressure.Set(s.gov.Pressure())
	if s.gov.EmergencyActive() {
		metrics.EmergencyMode.Set(1)
	} else {
		metrics.EmergencyMode.Set(0)
	}
	if s.store.System().CircuitBreakerOpen {
		metrics.CircuitBreaker.Set(1)
	} else {
		metrics.CircuitBreaker.Set(0)
	}

	// Slow sweeps every ~5s at the default tick.
	s.ticks++
	if s.ticks%100 == 0 {
		s.locks.Sweep(now)
		s.gov.Sweep(now)
		s.store.DecayGuilds(now)
	}
}
