package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CapabilityResolver answers the two capability questions the manager
// needs. The agent card directory implements it.
type CapabilityResolver interface {
	// CapabilityAvailable reports whether any active agent advertises the tag.
	CapabilityAvailable(tag string) bool
	// AgentCapable reports whether the given agent is active and advertises the tag.
	AgentCapable(agentID, tag string) bool
}

// Transition records one accepted state change. Task is a snapshot taken
// inside the transition's critical section.
type Transition struct {
	Task *Task
	From Status
	To   Status
}

// TransitionSink receives exactly one call per accepted transition, in
// revision order for any single task. It is invoked synchronously and
// must not call back into the Manager for the same task.
type TransitionSink func(*Transition)

// Config holds configuration for the lifecycle manager.
type Config struct {
	// TaskTimeout is how long a task may sit in Pending or InProgress
	// before the sweep fails it.
	TaskTimeout time.Duration `json:"task_timeout" yaml:"task_timeout"`

	// SweepInterval is the interval between timeout sweeps.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TaskTimeout:   5 * time.Minute,
		SweepInterval: 15 * time.Second,
	}
}

// Manager owns the task table. All lifecycle transitions go through it;
// callers only ever see snapshots.
type Manager struct {
	mu     sync.RWMutex
	tasks  map[string]*entry
	closed bool

	resolver CapabilityResolver
	sink     TransitionSink
	cfg      Config
	logger   *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// entry pairs a task with its serialization point. The entry lock is the
// only suspension point for transitions on the task.
type entry struct {
	mu   sync.Mutex
	task *Task
}

// NewManager creates a lifecycle manager. resolver must not be nil; sink
// may be nil when no observer is interested in transitions.
func NewManager(cfg Config, resolver CapabilityResolver, sink TransitionSink, logger *zap.Logger) *Manager {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = func(*Transition) {}
	}
	return &Manager{
		tasks:    make(map[string]*entry),
		resolver: resolver,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "task_manager")),
		done:     make(chan struct{}),
	}
}

// Start launches the timeout sweeper. The sweeper stops when ctx is
// cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.sweepLoop(ctx)
}

// Close stops the sweeper and rejects further creates. Existing tasks
// remain readable.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	m.wg.Wait()
	return nil
}

// Create makes a new task for the given capability tag. The task starts
// at Created and auto-advances to Pending once a capable active agent is
// known to exist; when none does, Create fails with ErrNoCapableAgent and
// the task is never stored. The single Created->Pending transition is
// handed to the sink.
func (m *Manager) Create(taskType, requesterID string, input map[string]any) (*Task, error) {
	if taskType == "" || requesterID == "" {
		return nil, ErrInvalidTask
	}
	if !m.resolver.CapabilityAvailable(taskType) {
		return nil, ErrNoCapableAgent
	}

	now := time.Now().UTC()
	t := &Task{
		ID:          uuid.New().String(),
		Type:        taskType,
		Status:      StatusCreated,
		RequesterID: requesterID,
		Input:       input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e := &entry{task: t}
	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.tasks[t.ID] = e
	m.mu.Unlock()

	snap := m.applyLocked(e, StatusPending, nil, "")

	m.logger.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("type", taskType),
		zap.String("requester", requesterID),
	)
	return snap, nil
}

// Claim moves a Pending task to InProgress on behalf of responderID. It
// fails with ErrInvalidTransition when the task is not Pending and with
// ErrNotAuthorized when the responder does not advertise the task's
// capability tag.
func (m *Manager) Claim(taskID, responderID string) (*Task, error) {
	e, err := m.entryFor(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	if !m.resolver.AgentCapable(responderID, e.task.Type) {
		return nil, ErrNotAuthorized
	}

	e.task.ResponderID = responderID
	return m.applyLocked(e, StatusInProgress, nil, ""), nil
}

// Complete moves an InProgress task to Completed with the given output.
func (m *Manager) Complete(taskID string, output map[string]any) (*Task, error) {
	e, err := m.entryFor(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.Status != StatusInProgress {
		return nil, ErrInvalidTransition
	}
	return m.applyLocked(e, StatusCompleted, output, ""), nil
}

// Fail moves a Pending or InProgress task to Failed with the given
// reason.
func (m *Manager) Fail(taskID, reason string) (*Task, error) {
	e, err := m.entryFor(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !validTransition(e.task.Status, StatusFailed) {
		return nil, ErrInvalidTransition
	}
	return m.applyLocked(e, StatusFailed, nil, reason), nil
}

// Cancel moves any non-terminal task to Cancelled. Cancelling an already
// cancelled task is an idempotent no-op: the same snapshot is returned
// and no transition is emitted. Cancellation is cooperative; it blocks
// further transitions but does not interrupt in-flight responder work.
func (m *Manager) Cancel(taskID string) (*Task, error) {
	e, err := m.entryFor(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.Status == StatusCancelled {
		return e.task.Clone(), nil
	}
	if !validTransition(e.task.Status, StatusCancelled) {
		return nil, ErrInvalidTransition
	}
	return m.applyLocked(e, StatusCancelled, nil, ""), nil
}

// Get returns a snapshot of the task.
func (m *Manager) Get(taskID string) (*Task, error) {
	e, err := m.entryFor(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

// ActiveTask reports whether the task exists and is non-terminal. Used
// by the message exchange for correlation validation.
func (m *Manager) ActiveTask(taskID string) bool {
	e, err := m.entryFor(taskID)
	if err != nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.task.Status.IsTerminal()
}

// List returns snapshots of all tasks ordered by creation time.
func (m *Manager) List() []*Task {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.tasks))
	for _, e := range m.tasks {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]*Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.task.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stats returns the task count per status.
func (m *Manager) Stats() map[Status]int {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.tasks))
	for _, e := range m.tasks {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	counts := make(map[Status]int)
	for _, e := range entries {
		e.mu.Lock()
		counts[e.task.Status]++
		e.mu.Unlock()
	}
	return counts
}

// applyLocked performs the transition to a status already validated by
// the caller, bumps the revision and hands the snapshot to the sink.
// Callers hold the entry lock.
func (m *Manager) applyLocked(e *entry, to Status, output map[string]any, reason string) *Task {
	from := e.task.Status
	e.task.Status = to
	e.task.Revision++
	e.task.UpdatedAt = time.Now().UTC()
	if output != nil {
		e.task.Output = output
	}
	if reason != "" {
		e.task.Err = reason
	}

	snap := e.task.Clone()
	m.sink(&Transition{Task: snap, From: from, To: to})
	return snap
}

func (m *Manager) entryFor(taskID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	return e, nil
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now().UTC())
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

// sweep fails tasks stuck in Pending or InProgress past the configured
// deadline. Cost is O(active tasks) per tick; no per-task timers.
func (m *Manager) sweep(now time.Time) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.tasks))
	for _, e := range m.tasks {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		stuck := !e.task.Status.IsTerminal() &&
			e.task.Status != StatusCreated &&
			now.Sub(e.task.UpdatedAt) > m.cfg.TaskTimeout
		if stuck {
			taskID := e.task.ID
			m.applyLocked(e, StatusFailed, nil, TimeoutReason)
			m.logger.Warn("task timed out", zap.String("task_id", taskID))
		}
		e.mu.Unlock()
	}
}
