package protocol

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/broadcast"
	"github.com/BaSui01/agentwire/config"
	"github.com/BaSui01/agentwire/directory"
	"github.com/BaSui01/agentwire/exchange"
	"github.com/BaSui01/agentwire/internal/metrics"
	"github.com/BaSui01/agentwire/task"
)

// Protocol is the composition root for the runtime. All cross-component
// effects are decided here: which transitions emit which events, when a
// correlation is bound or released, and what counts as agent activity.
type Protocol struct {
	cfg    *config.Config
	logger *zap.Logger

	dir      *directory.Directory
	tasks    *task.Manager
	exchange *exchange.Exchange
	events   *broadcast.Broadcaster

	metrics *metrics.Collector
	tracer  trace.Tracer

	done      chan struct{}
	closeOnce sync.Once
}

// TransitionPayload is the event payload for non-terminal transitions.
type TransitionPayload struct {
	Task *task.Task  `json:"task"`
	From task.Status `json:"from"`
	To   task.Status `json:"to"`
}

// RoutedPayload is the event payload for routed messages.
type RoutedPayload struct {
	MessageID     string `json:"message_id"`
	CorrelationID string `json:"correlation_id"`
	FromAgentID   string `json:"from_agent_id"`
	ToAgentID     string `json:"to_agent_id"`
}

// New assembles a Protocol from the given configuration.
func New(cfg *config.Config, opts ...Option) (*Protocol, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	p := &Protocol{
		cfg:    cfg,
		logger: zap.NewNop(),
		tracer: otel.Tracer("agentwire/protocol"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.events = broadcast.NewBroadcaster(broadcast.Config{
		RetentionSize:    cfg.Events.RetentionSize,
		SubscriberBuffer: cfg.Events.SubscriberBuffer,
	}, p.logger)

	p.dir = directory.NewDirectory(directory.Config{
		SweepInterval:   cfg.Directory.SweepInterval,
		LivenessTimeout: cfg.Directory.LivenessTimeout,
	}, p.logger)

	p.tasks = task.NewManager(task.Config{
		TaskTimeout:   cfg.Lifecycle.TaskTimeout,
		SweepInterval: cfg.Lifecycle.SweepInterval,
	}, p.dir, p.onTransition, p.logger)

	ex, err := exchange.New(exchange.Config{
		DedupWindow: cfg.Exchange.DedupWindow,
	}, p.dir, p.tasks, p.logger)
	if err != nil {
		return nil, err
	}
	p.exchange = ex

	return p, nil
}

// Start launches the background sweepers.
func (p *Protocol) Start(ctx context.Context) {
	p.dir.Start(ctx)
	p.tasks.Start(ctx)
	if p.metrics != nil {
		go p.gaugeLoop(ctx)
	}
}

// Close shuts down all components. In-flight snapshots stay readable.
// Calling Close more than once is a no-op.
func (p *Protocol) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.tasks.Close()
		_ = p.dir.Close()
		err = p.events.Close()
	})
	return err
}

// onTransition is the single task transition sink. It runs inside the
// task's critical section, so events for one task reach the broadcaster
// in revision order.
func (p *Protocol) onTransition(tr *task.Transition) {
	var (
		evtType broadcast.EventType
		payload any
	)
	switch {
	case tr.From == task.StatusCreated:
		evtType = broadcast.EventTaskCreated
		payload = tr.Task
		// Messages about this task correlate by its id from now on.
		p.exchange.BindCorrelation(tr.Task.ID, tr.Task.ID)
	case tr.To.IsTerminal():
		evtType = broadcast.EventTaskTerminal
		payload = tr.Task
		p.exchange.ReleaseCorrelation(tr.Task.ID)
	default:
		evtType = broadcast.EventTaskTransitioned
		payload = &TransitionPayload{Task: tr.Task, From: tr.From, To: tr.To}
	}

	p.publish(evtType, payload)

	if p.metrics != nil {
		p.metrics.RecordTaskTransition(string(tr.From), string(tr.To))
		if tr.To.IsTerminal() {
			p.metrics.RecordTaskDuration(string(tr.To), tr.Task.UpdatedAt.Sub(tr.Task.CreatedAt))
		}
	}
}

func (p *Protocol) publish(evtType broadcast.EventType, payload any) {
	if _, err := p.events.Publish(broadcast.Event{Type: evtType, Payload: payload}); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("event_type", string(evtType)),
			zap.Error(err),
		)
		return
	}
	if p.metrics != nil {
		p.metrics.RecordEventPublished(string(evtType))
	}
}

// RegisterAgent adds a card to the directory and announces it.
func (p *Protocol) RegisterAgent(card directory.AgentCard) error {
	if err := p.dir.Register(card); err != nil {
		return err
	}
	registered, err := p.dir.Lookup(card.AgentID)
	if err != nil {
		return err
	}
	p.publish(broadcast.EventAgentRegistered, registered)
	return nil
}

// DeregisterAgent marks an agent inactive and detaches its handler.
func (p *Protocol) DeregisterAgent(agentID string) error {
	if err := p.dir.Deregister(agentID); err != nil {
		return err
	}
	p.exchange.Detach(agentID)
	return nil
}

// Agent returns the card for an agent id.
func (p *Protocol) Agent(agentID string) (directory.AgentCard, error) {
	return p.dir.Lookup(agentID)
}

// Agents returns all cards.
func (p *Protocol) Agents() []directory.AgentCard {
	return p.dir.List()
}

// FindByCapability returns the active agents advertising a tag.
func (p *Protocol) FindByCapability(tag string) iter.Seq[directory.AgentCard] {
	return p.dir.FindByCapability(tag)
}

// TouchAgent records standalone agent activity.
func (p *Protocol) TouchAgent(agentID string) error {
	return p.dir.Touch(agentID)
}

// CreateTask creates a task for a capability tag.
func (p *Protocol) CreateTask(taskType, requesterID string, input map[string]any) (*task.Task, error) {
	return p.tasks.Create(taskType, requesterID, input)
}

// ClaimTask moves a pending task in progress on behalf of a responder.
func (p *Protocol) ClaimTask(taskID, responderID string) (*task.Task, error) {
	t, err := p.tasks.Claim(taskID, responderID)
	if err != nil {
		return nil, err
	}
	// A claim is activity for the responder.
	_ = p.dir.Touch(responderID)
	return t, nil
}

// CompleteTask finishes an in-progress task with its output.
func (p *Protocol) CompleteTask(taskID string, output map[string]any) (*task.Task, error) {
	return p.tasks.Complete(taskID, output)
}

// FailTask fails a pending or in-progress task.
func (p *Protocol) FailTask(taskID, reason string) (*task.Task, error) {
	return p.tasks.Fail(taskID, reason)
}

// CancelTask cancels a non-terminal task.
func (p *Protocol) CancelTask(taskID string) (*task.Task, error) {
	return p.tasks.Cancel(taskID)
}

// GetTask returns a task snapshot.
func (p *Protocol) GetTask(taskID string) (*task.Task, error) {
	return p.tasks.Get(taskID)
}

// Tasks returns snapshots of all tasks.
func (p *Protocol) Tasks() []*task.Task {
	return p.tasks.List()
}

// AttachHandler installs the delivery handler for an agent.
func (p *Protocol) AttachHandler(agentID string, h exchange.Handler) {
	p.exchange.Attach(agentID, h)
}

// DetachHandler removes the delivery handler for an agent.
func (p *Protocol) DetachHandler(agentID string) {
	p.exchange.Detach(agentID)
}

// HandleMessage routes one message between agents. A successful
// delivery counts as activity for both endpoints and emits a
// message-routed event; a suppressed duplicate emits nothing.
func (p *Protocol) HandleMessage(ctx context.Context, msg *exchange.Message) (*exchange.Receipt, error) {
	ctx, span := p.tracer.Start(ctx, "protocol.HandleMessage")
	defer span.End()

	start := time.Now()
	receipt, err := p.exchange.Route(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if p.metrics != nil {
			p.metrics.RecordMessageRouted(routeOutcome(err), time.Since(start))
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("message.id", receipt.MessageID),
		attribute.Bool("message.duplicate", receipt.Duplicate),
	)

	_ = p.dir.Touch(msg.FromAgentID)
	_ = p.dir.Touch(msg.ToAgentID)

	if receipt.Duplicate {
		if p.metrics != nil {
			p.metrics.RecordMessageRouted("duplicate", time.Since(start))
		}
		return receipt, nil
	}

	p.publish(broadcast.EventMessageRouted, &RoutedPayload{
		MessageID:     msg.ID,
		CorrelationID: msg.CorrelationID,
		FromAgentID:   msg.FromAgentID,
		ToAgentID:     msg.ToAgentID,
	})
	if p.metrics != nil {
		p.metrics.RecordMessageRouted("delivered", time.Since(start))
	}
	return receipt, nil
}

// BindCorrelation maps an external correlation id onto a task.
func (p *Protocol) BindCorrelation(correlationID, taskID string) {
	p.exchange.BindCorrelation(correlationID, taskID)
}

// SubscribeEvents attaches a live event subscriber.
func (p *Protocol) SubscribeEvents() (*broadcast.Subscription, error) {
	return p.events.Subscribe()
}

// SubscribeEventsFrom attaches a subscriber with replay from a sequence.
func (p *Protocol) SubscribeEventsFrom(fromSeq uint64) (*broadcast.Subscription, error) {
	return p.events.SubscribeFrom(fromSeq)
}

// UnsubscribeEvents detaches a subscriber.
func (p *Protocol) UnsubscribeEvents(subscriberID string) {
	p.events.Unsubscribe(subscriberID)
}

// EventHistory returns retained events after the given sequence.
func (p *Protocol) EventHistory(fromSeq uint64) ([]broadcast.Event, error) {
	return p.events.History(fromSeq)
}

// LastSequence returns the most recently assigned event sequence.
func (p *Protocol) LastSequence() uint64 {
	return p.events.LastSequence()
}

// Stats summarizes the runtime state.
type Stats struct {
	Agents     int                 `json:"agents"`
	Tasks      map[task.Status]int `json:"tasks"`
	Events     broadcast.Stats     `json:"events"`
	Routed     uint64              `json:"messages_routed"`
	Duplicates uint64              `json:"messages_duplicate"`
	Failed     uint64              `json:"messages_failed"`
}

// Stats returns a snapshot of runtime counters.
func (p *Protocol) Stats() Stats {
	routed, duplicates, failed := p.exchange.Stats()
	return Stats{
		Agents:     len(p.dir.List()),
		Tasks:      p.tasks.Stats(),
		Events:     p.events.Stats(),
		Routed:     routed,
		Duplicates: duplicates,
		Failed:     failed,
	}
}

// gaugeLoop refreshes directory and broadcaster gauges.
func (p *Protocol) gaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cards := p.dir.List()
			active := 0
			for _, card := range cards {
				if card.Status == directory.AgentActive {
					active++
				}
			}
			p.metrics.SetAgentCounts(len(cards), active)
			p.metrics.SetSubscribersConnected(p.events.Stats().Subscribers)
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
}

// routeOutcome buckets a routing error as a metric label.
func routeOutcome(err error) string {
	switch {
	case err == nil:
		return "delivered"
	case errors.Is(err, exchange.ErrDeliveryFailed):
		return "failed"
	default:
		return "rejected"
	}
}
