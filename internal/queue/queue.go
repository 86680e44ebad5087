// Package queue implements the bounded, priority-ordered, deduplicating
// intent queue feeding the scheduler. Intents are strictly ordered by
// priority and FIFO within a tier (a monotonically increasing sequence
// number breaks ties). Capacity is enforced globally and per guild, and a
// short dedup window collapses repeated identical requests while one is
// still pending. Dropped intents emit an observable drop event for
// monitoring.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/keys"
)

// DropReason explains why an intent was refused admission.
type DropReason string

const (
	DropQueueFull     DropReason = "queue_full"
	DropGuildCapacity DropReason = "guild_capacity"
	DropDuplicate     DropReason = "duplicate"
)

// DropFunc observes refused intents (metrics, logging).
type DropFunc func(in *intent.Intent, reason DropReason)

// Config tunes queue capacities. Zero values are replaced by defaults.
type Config struct {
	Capacity      int           // global cap on pending intents
	GuildCapacity int           // per-guild cap
	DedupWindow   time.Duration // window within which identical requests collapse
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 500
	}
	if c.GuildCapacity <= 0 {
		c.GuildCapacity = 50
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 5 * time.Second
	}
	return c
}

type item struct {
	in    *intent.Intent
	seq   uint64
	index int
}

// pq orders by priority, then admission sequence (FIFO within a tier).
type pq []*item

func (q pq) Len() int { return len(q) }
func (q pq) Less(i, j int) bool {
	if q[i].in.Priority != q[j].in.Priority {
		return q[i].in.Priority < q[j].in.Priority
	}
	return q[i].seq < q[j].seq
}
func (q pq) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *pq) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *pq) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

type dedupRecord struct {
	intentID string
	at       time.Time
}

// Queue is the bounded priority intent queue. Safe for concurrent use.
type Queue struct {
	cfg    Config
	onDrop DropFunc

	mu       sync.Mutex
	heap     pq
	seq      uint64
	byID     map[string]*item
	dedup    map[string]dedupRecord
	perGuild map[string]int
	// tracked counts intents admitted but not yet completed, including ones
	// currently held by the scheduler; it backs the dedup pending check.
	tracked map[string]string // intent id -> dedup key

	avgService time.Duration // rough per-intent service estimate for ETA
	workers    int
}

// New builds a queue. onDrop may be nil. workers is the dispatch pool size,
// used only for wait estimation.
func New(cfg Config, workers int, onDrop DropFunc) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		cfg:        cfg.withDefaults(),
		onDrop:     onDrop,
		byID:       make(map[string]*item),
		dedup:      make(map[string]dedupRecord),
		perGuild:   make(map[string]int),
		tracked:    make(map[string]string),
		avgService: 500 * time.Millisecond,
		workers:    workers,
	}
}

// Enqueue admits an intent. On refusal it returns false plus the drop
// reason, and emits a drop event: refusal happens when global or per-guild
// capacity is exceeded or when a duplicate for the same dedup key is still
// pending within the dedup window.
func (q *Queue) Enqueue(in *intent.Intent) (bool, DropReason) {
	now := time.Now()
	key := keys.Dedup(in)

	q.mu.Lock()
	if rec, ok := q.dedup[key]; ok {
		_, stillTracked := q.tracked[rec.intentID]
		if stillTracked || now.Sub(rec.at) < q.cfg.DedupWindow {
			q.mu.Unlock()
			q.drop(in, DropDuplicate)
			return false, DropDuplicate
		}
	}
	if len(q.byID) >= q.cfg.Capacity {
		q.mu.Unlock()
		q.drop(in, DropQueueFull)
		return false, DropQueueFull
	}
	if q.perGuild[in.GuildID] >= q.cfg.GuildCapacity {
		q.mu.Unlock()
		q.drop(in, DropGuildCapacity)
		return false, DropGuildCapacity
	}

	q.seq++
	it := &item{in: in, seq: q.seq}
	heap.Push(&q.heap, it)
	q.byID[in.ID] = it
	q.dedup[key] = dedupRecord{intentID: in.ID, at: now}
	q.tracked[in.ID] = key
	q.perGuild[in.GuildID]++
	q.mu.Unlock()
	return true, ""
}

// Dequeue removes and returns the most urgent pending intent, or nil when
// the queue is empty. The intent stays tracked (for dedup purposes) until
// Complete is called.
func (q *Queue) Dequeue() *intent.Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return nil
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.byID, it.in.ID)
	q.perGuild[it.in.GuildID]--
	if q.perGuild[it.in.GuildID] <= 0 {
		delete(q.perGuild, it.in.GuildID)
	}
	return it.in
}

// Requeue re-admits an intent whose retry was scheduled. It bypasses dedup
// (the intent is already the tracked one for its key) and the capacity
// checks: a re-admission lost to a capacity race would strand the intent in
// RETRY_SCHEDULED forever.
func (q *Queue) Requeue(in *intent.Intent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[in.ID]; ok {
		return
	}
	q.seq++
	it := &item{in: in, seq: q.seq}
	heap.Push(&q.heap, it)
	q.byID[in.ID] = it
	q.perGuild[in.GuildID]++
	if _, ok := q.tracked[in.ID]; !ok {
		q.tracked[in.ID] = keys.Dedup(in)
	}
}

// Complete clears all bookkeeping for a finished intent, releasing its dedup
// key for future requests.
func (q *Queue) Complete(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key, ok := q.tracked[id]
	if !ok {
		return
	}
	delete(q.tracked, id)
	if rec, ok := q.dedup[key]; ok && rec.intentID == id {
		delete(q.dedup, key)
	}
	if it, ok := q.byID[id]; ok {
		heap.Remove(&q.heap, it.index)
		delete(q.byID, id)
		q.perGuild[it.in.GuildID]--
		if q.perGuild[it.in.GuildID] <= 0 {
			delete(q.perGuild, it.in.GuildID)
		}
	}
}

// Size returns the number of intents waiting in the queue.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Capacity returns the configured global capacity.
func (q *Queue) Capacity() int { return q.cfg.Capacity }

// Has reports whether the intent is still waiting in the queue.
func (q *Queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[id]
	return ok
}

// EstimateWait approximates how long a new intent at priority p would wait:
// the number of queued intents at or above its urgency, spread across the
// worker pool, times the rough per-intent service estimate.
func (q *Queue) EstimateWait(p intent.Priority) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	ahead := 0
	for _, it := range q.byID {
		if it.in.Priority <= p {
			ahead++
		}
	}
	return time.Duration(ahead/q.workers+1) * q.avgService
}

func (q *Queue) drop(in *intent.Intent, reason DropReason) {
	if q.onDrop != nil {
		q.onDrop(in, reason)
	}
}
