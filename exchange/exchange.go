package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// AgentRegistry is the view of the agent directory the exchange needs.
type AgentRegistry interface {
	// Known reports whether an agent id has ever been registered.
	Known(agentID string) bool
}

// TaskView is the view of the task table the exchange needs.
type TaskView interface {
	// ActiveTask reports whether the task exists and is non-terminal.
	ActiveTask(taskID string) bool
}

// Handler consumes messages delivered to one agent. A non-nil error or a
// panic marks the delivery failed; the message is not retried.
type Handler func(ctx context.Context, msg *Message) error

// Receipt describes the outcome of one Route call.
type Receipt struct {
	MessageID   string    `json:"message_id"`
	DeliveredTo string    `json:"delivered_to"`
	Duplicate   bool      `json:"duplicate"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Config holds configuration for the message exchange.
type Config struct {
	// DedupWindow is how many recently routed message ids are remembered
	// for duplicate suppression.
	DedupWindow int `json:"dedup_window" yaml:"dedup_window"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DedupWindow: 4096}
}

// Exchange validates and delivers correlated messages between agents.
type Exchange struct {
	mu           sync.RWMutex
	handlers     map[string]Handler
	correlations map[string]string

	seen     *lru.Cache[string, struct{}]
	registry AgentRegistry
	tasks    TaskView
	logger   *zap.Logger

	routed     uint64
	duplicates uint64
	failed     uint64
}

// New creates a message exchange bound to an agent registry and a task
// view.
func New(cfg Config, registry AgentRegistry, tasks TaskView, logger *zap.Logger) (*Exchange, error) {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultConfig().DedupWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seen, err := lru.New[string, struct{}](cfg.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("exchange: dedup cache: %w", err)
	}
	return &Exchange{
		handlers:     make(map[string]Handler),
		correlations: make(map[string]string),
		seen:         seen,
		registry:     registry,
		tasks:        tasks,
		logger:       logger.With(zap.String("component", "exchange")),
	}, nil
}

// Attach installs the delivery handler for an agent, replacing any
// previous one.
func (e *Exchange) Attach(agentID string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		delete(e.handlers, agentID)
		return
	}
	e.handlers[agentID] = h
}

// Detach removes the delivery handler for an agent.
func (e *Exchange) Detach(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, agentID)
}

// BindCorrelation maps a correlation id to its task. Rebinding an
// existing correlation id overwrites the previous mapping.
func (e *Exchange) BindCorrelation(correlationID, taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.correlations[correlationID] = taskID
}

// ReleaseCorrelation drops the mapping for a correlation id. Releasing
// an unknown id is a no-op.
func (e *Exchange) ReleaseCorrelation(correlationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.correlations, correlationID)
}

// ResolveCorrelation returns the task id bound to a correlation id.
func (e *Exchange) ResolveCorrelation(correlationID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	taskID, ok := e.correlations[correlationID]
	return taskID, ok
}

// Route validates and delivers one message. Validation order is fixed:
// envelope, endpoints, correlation, then delivery. Correlation is only
// checked when the message carries a correlation id; uncorrelated
// messages are delivered directly. A message id already inside the
// dedup window short-circuits to a duplicate receipt without a second
// delivery.
func (e *Exchange) Route(ctx context.Context, msg *Message) (*Receipt, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if !e.registry.Known(msg.FromAgentID) {
		return nil, fmt.Errorf("%w: sender %q", ErrUnknownAgent, msg.FromAgentID)
	}
	if !e.registry.Known(msg.ToAgentID) {
		return nil, fmt.Errorf("%w: recipient %q", ErrUnknownAgent, msg.ToAgentID)
	}

	if msg.CorrelationID != "" {
		taskID, ok := e.ResolveCorrelation(msg.CorrelationID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown correlation %q", ErrInvalidCorrelation, msg.CorrelationID)
		}
		if !e.tasks.ActiveTask(taskID) {
			return nil, fmt.Errorf("%w: task %q is terminal", ErrInvalidCorrelation, taskID)
		}
	}

	if _, dup := e.seen.Get(msg.ID); dup {
		e.mu.Lock()
		e.duplicates++
		e.mu.Unlock()
		e.logger.Debug("duplicate message suppressed",
			zap.String("message_id", msg.ID),
			zap.String("to", msg.ToAgentID),
		)
		return &Receipt{
			MessageID:   msg.ID,
			DeliveredTo: msg.ToAgentID,
			Duplicate:   true,
			DeliveredAt: time.Now().UTC(),
		}, nil
	}

	e.mu.RLock()
	h := e.handlers[msg.ToAgentID]
	e.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: no handler attached for %q", ErrDeliveryFailed, msg.ToAgentID)
	}

	if err := e.deliver(ctx, h, msg.Clone()); err != nil {
		e.mu.Lock()
		e.failed++
		e.mu.Unlock()
		e.logger.Warn("delivery failed",
			zap.String("message_id", msg.ID),
			zap.String("to", msg.ToAgentID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	e.seen.Add(msg.ID, struct{}{})
	e.mu.Lock()
	e.routed++
	e.mu.Unlock()

	return &Receipt{
		MessageID:   msg.ID,
		DeliveredTo: msg.ToAgentID,
		DeliveredAt: time.Now().UTC(),
	}, nil
}

// deliver invokes the handler and converts a panic into an error so a
// misbehaving recipient cannot take the exchange down.
func (e *Exchange) deliver(ctx context.Context, h Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

// Stats reports routed, duplicate and failed counters.
func (e *Exchange) Stats() (routed, duplicates, failed uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.routed, e.duplicates, e.failed
}
