package task

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeResolver is a CapabilityResolver backed by static maps.
type fakeResolver struct {
	tags   map[string]bool
	agents map[string]map[string]bool
}

func (r *fakeResolver) CapabilityAvailable(tag string) bool { return r.tags[tag] }

func (r *fakeResolver) AgentCapable(agentID, tag string) bool {
	caps, ok := r.agents[agentID]
	return ok && caps[tag]
}

func newTestResolver() *fakeResolver {
	return &fakeResolver{
		tags: map[string]bool{"quote": true},
		agents: map[string]map[string]bool{
			"agent-seller": {"quote": true},
			"agent-other":  {"audit": true},
		},
	}
}

type sinkRecorder struct {
	mu          sync.Mutex
	transitions []*Transition
}

func (s *sinkRecorder) record(tr *Transition) {
	s.mu.Lock()
	s.transitions = append(s.transitions, tr)
	s.mu.Unlock()
}

func (s *sinkRecorder) all() []*Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

func newTestManager(t *testing.T) (*Manager, *sinkRecorder) {
	t.Helper()
	rec := &sinkRecorder{}
	m := NewManager(DefaultConfig(), newTestResolver(), rec.record, zap.NewNop())
	t.Cleanup(func() { _ = m.Close() })
	return m, rec
}

func TestManagerCreate(t *testing.T) {
	m, rec := newTestManager(t)

	created, err := m.Create("quote", "agent-buyer", map[string]any{"sku": "widget"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Status != StatusPending {
		t.Errorf("expected Pending, got %s", created.Status)
	}
	if created.Revision != 1 {
		t.Errorf("expected revision 1, got %d", created.Revision)
	}
	if created.ID == "" {
		t.Error("expected a generated task id")
	}

	trs := rec.all()
	if len(trs) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(trs))
	}
	if trs[0].From != StatusCreated || trs[0].To != StatusPending {
		t.Errorf("unexpected transition %s -> %s", trs[0].From, trs[0].To)
	}
}

func TestManagerCreateNoCapableAgent(t *testing.T) {
	m, rec := newTestManager(t)

	_, err := m.Create("translate", "agent-buyer", nil)
	if err != ErrNoCapableAgent {
		t.Fatalf("expected ErrNoCapableAgent, got %v", err)
	}
	if len(rec.all()) != 0 {
		t.Error("rejected create must not emit transitions")
	}
	if len(m.List()) != 0 {
		t.Error("rejected create must not persist the task")
	}
}

func TestManagerCreateInvalid(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Create("", "agent-buyer", nil); err != ErrInvalidTask {
		t.Errorf("empty type: expected ErrInvalidTask, got %v", err)
	}
	if _, err := m.Create("quote", "", nil); err != ErrInvalidTask {
		t.Errorf("empty requester: expected ErrInvalidTask, got %v", err)
	}
}

func TestManagerClaim(t *testing.T) {
	m, _ := newTestManager(t)

	created, err := m.Create("quote", "agent-buyer", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	claimed, err := m.Claim(created.ID, "agent-seller")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed.Status != StatusInProgress {
		t.Errorf("expected InProgress, got %s", claimed.Status)
	}
	if claimed.ResponderID != "agent-seller" {
		t.Errorf("expected responder agent-seller, got %q", claimed.ResponderID)
	}
	if claimed.Revision != 2 {
		t.Errorf("expected revision 2, got %d", claimed.Revision)
	}

	if _, err := m.Claim(created.ID, "agent-seller"); err != ErrInvalidTransition {
		t.Errorf("double claim: expected ErrInvalidTransition, got %v", err)
	}
}

func TestManagerClaimNotAuthorized(t *testing.T) {
	m, _ := newTestManager(t)

	created, _ := m.Create("quote", "agent-buyer", nil)
	if _, err := m.Claim(created.ID, "agent-other"); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	got, err := m.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending || got.Revision != 1 {
		t.Errorf("rejected claim must not mutate task: %s rev %d", got.Status, got.Revision)
	}
}

func TestManagerComplete(t *testing.T) {
	m, rec := newTestManager(t)

	created, _ := m.Create("quote", "agent-buyer", nil)

	if _, err := m.Complete(created.ID, nil); err != ErrInvalidTransition {
		t.Fatalf("complete from Pending: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := m.Claim(created.ID, "agent-seller"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	done, err := m.Complete(created.ID, map[string]any{"price": 42.5})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected Completed, got %s", done.Status)
	}
	if done.Output["price"] != 42.5 {
		t.Errorf("unexpected output: %v", done.Output)
	}

	trs := rec.all()
	if len(trs) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(trs))
	}
	if trs[2].To != StatusCompleted {
		t.Errorf("final transition should reach Completed, got %s", trs[2].To)
	}
}

func TestManagerFail(t *testing.T) {
	m, _ := newTestManager(t)

	created, _ := m.Create("quote", "agent-buyer", nil)
	failed, err := m.Fail(created.ID, "responder unreachable")
	if err != nil {
		t.Fatalf("Fail from Pending: %v", err)
	}
	if failed.Status != StatusFailed || failed.Err != "responder unreachable" {
		t.Errorf("unexpected failed task: %s %q", failed.Status, failed.Err)
	}

	if _, err := m.Fail(created.ID, "again"); err != ErrInvalidTransition {
		t.Errorf("fail on terminal: expected ErrInvalidTransition, got %v", err)
	}
}

func TestManagerCancel(t *testing.T) {
	m, rec := newTestManager(t)

	created, _ := m.Create("quote", "agent-buyer", nil)
	cancelled, err := m.Cancel(created.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected Cancelled, got %s", cancelled.Status)
	}

	before := len(rec.all())
	again, err := m.Cancel(created.ID)
	if err != nil {
		t.Fatalf("repeat Cancel must be a no-op, got %v", err)
	}
	if again.Revision != cancelled.Revision {
		t.Errorf("repeat Cancel changed revision: %d vs %d", again.Revision, cancelled.Revision)
	}
	if len(rec.all()) != before {
		t.Error("repeat Cancel must not emit a transition")
	}
}

func TestManagerCancelCompleted(t *testing.T) {
	m, _ := newTestManager(t)

	created, _ := m.Create("quote", "agent-buyer", nil)
	_, _ = m.Claim(created.ID, "agent-seller")
	_, _ = m.Complete(created.ID, nil)

	if _, err := m.Cancel(created.ID); err != ErrInvalidTransition {
		t.Fatalf("cancel on Completed: expected ErrInvalidTransition, got %v", err)
	}
}

func TestManagerUnknownTask(t *testing.T) {
	m, _ := newTestManager(t)

	for name, fn := range map[string]func() error{
		"get":      func() error { _, err := m.Get("missing"); return err },
		"claim":    func() error { _, err := m.Claim("missing", "agent-seller"); return err },
		"complete": func() error { _, err := m.Complete("missing", nil); return err },
		"fail":     func() error { _, err := m.Fail("missing", "r"); return err },
		"cancel":   func() error { _, err := m.Cancel("missing"); return err },
	} {
		t.Run(name, func(t *testing.T) {
			if err := fn(); err != ErrUnknownTask {
				t.Errorf("expected ErrUnknownTask, got %v", err)
			}
		})
	}
}

func TestManagerSnapshotIsolation(t *testing.T) {
	m, _ := newTestManager(t)

	created, _ := m.Create("quote", "agent-buyer", map[string]any{"sku": "widget"})
	created.Input["sku"] = "mutated"
	created.Status = StatusFailed

	got, err := m.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Input["sku"] != "widget" {
		t.Error("caller mutation leaked into stored task input")
	}
	if got.Status != StatusPending {
		t.Errorf("caller mutation leaked into stored task status: %s", got.Status)
	}
}

func TestManagerActiveTask(t *testing.T) {
	m, _ := newTestManager(t)

	created, _ := m.Create("quote", "agent-buyer", nil)
	if !m.ActiveTask(created.ID) {
		t.Error("pending task should be active")
	}
	if m.ActiveTask("missing") {
		t.Error("unknown task should not be active")
	}

	_, _ = m.Cancel(created.ID)
	if m.ActiveTask(created.ID) {
		t.Error("cancelled task should not be active")
	}
}

func TestManagerSweep(t *testing.T) {
	rec := &sinkRecorder{}
	cfg := Config{TaskTimeout: time.Minute, SweepInterval: time.Hour}
	m := NewManager(cfg, newTestResolver(), rec.record, zap.NewNop())
	defer m.Close()

	stale, _ := m.Create("quote", "agent-buyer", nil)
	fresh, _ := m.Create("quote", "agent-buyer", nil)

	// Only the stale task is past the deadline.
	m.sweep(time.Now().UTC().Add(30 * time.Second))
	if got, _ := m.Get(stale.ID); got.Status != StatusPending {
		t.Fatalf("early sweep must not fail tasks, got %s", got.Status)
	}

	cutoff := time.Now().UTC().Add(2 * time.Minute)
	if _, err := m.Claim(fresh.ID, "agent-seller"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	m.sweep(cutoff)

	got, _ := m.Get(stale.ID)
	if got.Status != StatusFailed || got.Err != TimeoutReason {
		t.Errorf("stale task: expected timeout failure, got %s %q", got.Status, got.Err)
	}
	inProg, _ := m.Get(fresh.ID)
	if inProg.Status != StatusFailed {
		t.Errorf("stale in-progress task should fail, got %s", inProg.Status)
	}
}

func TestManagerStats(t *testing.T) {
	m, _ := newTestManager(t)

	a, _ := m.Create("quote", "agent-buyer", nil)
	b, _ := m.Create("quote", "agent-buyer", nil)
	_, _ = m.Claim(a.ID, "agent-seller")
	_, _ = m.Complete(a.ID, nil)

	stats := m.Stats()
	if stats[StatusCompleted] != 1 || stats[StatusPending] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
	if !m.ActiveTask(b.ID) {
		t.Error("pending task should remain active")
	}
}

func TestManagerConcurrentClaims(t *testing.T) {
	m, _ := newTestManager(t)

	created, _ := m.Create("quote", "agent-buyer", nil)

	const claimers = 16
	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Claim(created.ID, "agent-seller")
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch err {
		case nil:
			won++
		case ErrInvalidTransition:
		default:
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("exactly one claim should win, got %d", won)
	}

	got, _ := m.Get(created.ID)
	if got.Status != StatusInProgress || got.Revision != 2 {
		t.Errorf("unexpected final state: %s rev %d", got.Status, got.Revision)
	}
}
