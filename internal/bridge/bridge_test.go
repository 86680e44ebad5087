package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkaralis/go-voice-backend/internal/decision"
	"github.com/pkaralis/go-voice-backend/internal/executors"
	"github.com/pkaralis/go-voice-backend/internal/governor"
	"github.com/pkaralis/go-voice-backend/internal/intent"
	"github.com/pkaralis/go-voice-backend/internal/lock"
	"github.com/pkaralis/go-voice-backend/internal/queue"
	"github.com/pkaralis/go-voice-backend/internal/scheduler"
	"github.com/pkaralis/go-voice-backend/internal/state"
)

type stubExecutor struct {
	block chan struct{}
}

func (s *stubExecutor) Execute(_ context.Context, _ *intent.Intent) executors.Result {
	if s.block != nil {
		<-s.block
	}
	return executors.Result{OK: true}
}

// newPipeline wires a real queue and scheduler behind the bridge, running the
// loop until the test ends.
func newPipeline(t *testing.T, exec *stubExecutor) *Bridge {
	t.Helper()
	store := state.New(10 * time.Minute)
	gov := governor.New(governor.Config{BaseDelay: time.Millisecond}, store, zerolog.Nop())
	locks := lock.NewManager()
	q := queue.New(queue.Config{Capacity: 50, GuildCapacity: 50}, 4, DropHandler(zerolog.Nop()))
	engine := decision.NewEngine(decision.Config{}, store, gov, locks, q)

	var br *Bridge
	sched := scheduler.New(scheduler.Config{Tick: time.Millisecond}, q, engine, store, gov, locks,
		exec, zerolog.Nop(), func(c scheduler.Completion) { br.OnComplete(c) })
	br = New(q, sched, store, gov, engine, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)
	return br
}

func logIntent(resID string) *intent.Intent {
	return intent.New(intent.ActionLog, "g1", intent.ResourceGuild, resID,
		intent.LogPayload{Event: "test"}, intent.Source{Kind: intent.SourceSystem})
}

// --- Submit ---

func TestSubmit_QueuedReceipt(t *testing.T) {
	br := newPipeline(t, &stubExecutor{})
	rcpt, err := br.Submit(logIntent("r1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !rcpt.Queued || rcpt.IntentID == "" {
		t.Fatalf("receipt = %+v", rcpt)
	}
	if rcpt.ETAText == "" {
		t.Fatalf("receipt must carry a human ETA")
	}
}

func TestSubmit_NilIntent(t *testing.T) {
	br := newPipeline(t, &stubExecutor{})
	if _, err := br.Submit(nil); !errors.Is(err, ErrNilIntent) {
		t.Fatalf("err = %v, want ErrNilIntent", err)
	}
}

func TestSubmit_DuplicateDroppedAtDoor(t *testing.T) {
	exec := &stubExecutor{block: make(chan struct{})}
	defer close(exec.block)
	br := newPipeline(t, exec)

	first := logIntent("r1")
	if rcpt, _ := br.Submit(first); !rcpt.Queued {
		t.Fatalf("first submit dropped")
	}
	dup := logIntent("r1")
	rcpt, err := br.Submit(dup)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rcpt.Queued || rcpt.Reason != string(queue.DropDuplicate) {
		t.Fatalf("duplicate receipt = %+v", rcpt)
	}
}

// --- SubmitAndWait ---

func TestSubmitAndWait_DeliversOutcome(t *testing.T) {
	br := newPipeline(t, &stubExecutor{})
	in := logIntent("r1")

	out, err := br.SubmitAndWait(context.Background(), in, 5*time.Second)
	if err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	if out.IntentID != in.ID || out.Status != intent.StatusCompleted {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestSubmitAndWait_Timeout(t *testing.T) {
	exec := &stubExecutor{block: make(chan struct{})}
	defer close(exec.block)
	br := newPipeline(t, exec)

	_, err := br.SubmitAndWait(context.Background(), logIntent("r1"), 30*time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", err)
	}
}

func TestSubmitAndWait_ContextCancel(t *testing.T) {
	exec := &stubExecutor{block: make(chan struct{})}
	defer close(exec.block)
	br := newPipeline(t, exec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := br.SubmitAndWait(ctx, logIntent("r1"), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSubmitAndWait_DroppedReturnsImmediately(t *testing.T) {
	exec := &stubExecutor{block: make(chan struct{})}
	defer close(exec.block)
	br := newPipeline(t, exec)

	first := logIntent("r1")
	br.Submit(first)

	out, err := br.SubmitAndWait(context.Background(), logIntent("r1"), time.Minute)
	if err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	if out.Status != intent.StatusDropped || out.Reason != string(queue.DropDuplicate) {
		t.Fatalf("outcome = %+v", out)
	}
}

// --- Status ---

func TestStatus_TracksLifecycle(t *testing.T) {
	br := newPipeline(t, &stubExecutor{})
	in := logIntent("r1")

	if _, ok := br.Status(in.ID); ok {
		t.Fatalf("unsubmitted intent must be unknown")
	}
	if _, err := br.Submit(in); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		out, ok := br.Status(in.ID)
		if ok && out.Status == intent.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("intent never completed: %+v, %v", out, ok)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// countingExecutor hands every create a fresh channel id and remembers which
// owner asked.
type countingExecutor struct {
	mu       sync.Mutex
	owners   []string
	channels []string
}

func (e *countingExecutor) Execute(_ context.Context, in *intent.Intent) executors.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := in.Payload.(intent.CreateChannelPayload); ok {
		e.owners = append(e.owners, p.OwnerID)
	}
	id := fmt.Sprintf("chan-%03d", len(e.channels))
	e.channels = append(e.channels, id)
	return executors.Result{OK: true, NewChannelID: id}
}

func TestConcurrentCreates_DistinctOwnersAllComplete(t *testing.T) {
	const owners = 45

	exec := &countingExecutor{}
	store := state.New(10 * time.Minute)
	// A wide cost window keeps pressure flat so admission stays open for the
	// whole burst.
	gov := governor.New(governor.Config{BaseDelay: time.Millisecond, MaxCostPerWindow: 100000},
		store, zerolog.Nop())
	locks := lock.NewManager()
	q := queue.New(queue.Config{Capacity: 50, GuildCapacity: 50}, 4, DropHandler(zerolog.Nop()))
	engine := decision.NewEngine(decision.Config{}, store, gov, locks, q)

	var br *Bridge
	sched := scheduler.New(scheduler.Config{Tick: time.Millisecond}, q, engine, store, gov, locks,
		exec, zerolog.Nop(), func(c scheduler.Completion) { br.OnComplete(c) })
	br = New(q, sched, store, gov, engine, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, owners)
	errs := make([]error, owners)
	for i := 0; i < owners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("u%02d", i)
			in := intent.New(intent.ActionCreateChannel, "g1", intent.ResourceOwner, owner,
				intent.CreateChannelPayload{OwnerID: owner, Name: "room"},
				intent.Source{Kind: intent.SourceUser, UserID: owner})
			outcomes[i], errs[i] = br.SubmitAndWait(context.Background(), in, 10*time.Second)
		}(i)
	}
	wg.Wait()

	for i := 0; i < owners; i++ {
		if errs[i] != nil {
			t.Fatalf("owner %d: SubmitAndWait: %v", i, errs[i])
		}
		if outcomes[i].Status != intent.StatusCompleted {
			t.Fatalf("owner %d: outcome = %+v", i, outcomes[i])
		}
	}

	exec.mu.Lock()
	seenOwners := make(map[string]bool, len(exec.owners))
	for _, o := range exec.owners {
		seenOwners[o] = true
	}
	seenChannels := make(map[string]bool, len(exec.channels))
	for _, c := range exec.channels {
		seenChannels[c] = true
	}
	exec.mu.Unlock()
	if len(seenOwners) != owners {
		t.Fatalf("distinct owners executed = %d, want %d", len(seenOwners), owners)
	}
	if len(seenChannels) != owners {
		t.Fatalf("distinct channel ids = %d, want %d", len(seenChannels), owners)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st := br.Stats()
		if st.Processed == owners && st.QueueDepth == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline never drained: %+v", st)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// --- Stats ---

func TestStats_Snapshot(t *testing.T) {
	br := newPipeline(t, &stubExecutor{})
	st := br.Stats()
	if st.QueueCapacity != 50 {
		t.Fatalf("stats = %+v", st)
	}

	out, err := br.SubmitAndWait(context.Background(), logIntent("r1"), 5*time.Second)
	if err != nil || out.Status != intent.StatusCompleted {
		t.Fatalf("outcome = %+v, %v", out, err)
	}
	if got := br.Stats().Processed; got != 1 {
		t.Fatalf("processed = %d, want 1", got)
	}
}
