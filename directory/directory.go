package directory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for the directory.
type Config struct {
	// SweepInterval is the interval between liveness sweeps.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// LivenessTimeout is how long an agent may stay unseen before it is
	// marked inactive.
	LivenessTimeout time.Duration `json:"liveness_timeout" yaml:"liveness_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   30 * time.Second,
		LivenessTimeout: 2 * time.Minute,
	}
}

// Directory is the in-memory agent card store. It owns its map and the
// secondary capability index; nothing else mutates either.
type Directory struct {
	mu sync.RWMutex

	// cards stores registered cards by agent id.
	cards map[string]*AgentCard

	// capabilityIndex maps capability tag -> set of agent ids, maintained
	// incrementally on register/deregister.
	capabilityIndex map[string]map[string]struct{}

	cfg    Config
	logger *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDirectory creates a new agent card directory.
func NewDirectory(cfg Config, logger *zap.Logger) *Directory {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = DefaultConfig().LivenessTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		cards:           make(map[string]*AgentCard),
		capabilityIndex: make(map[string]map[string]struct{}),
		cfg:             cfg,
		logger:          logger.With(zap.String("component", "directory")),
		done:            make(chan struct{}),
	}
}

// Start launches the liveness sweeper. It returns immediately; the
// sweeper stops when ctx is cancelled or Close is called.
func (d *Directory) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.sweepLoop(ctx)
}

// Close stops the liveness sweeper.
func (d *Directory) Close() error {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
	return nil
}

// Register adds a card to the directory. It fails with ErrDuplicateAgent
// when the agent id is present and active; re-registering an inactive
// agent replaces the card in place, preserving the original registration
// time.
func (d *Directory) Register(card AgentCard) error {
	if err := card.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := d.cards[card.AgentID]; ok {
		if existing.Status == AgentActive {
			return ErrDuplicateAgent
		}
		// Inactive card comes back: drop the old index entries before
		// re-indexing the replacement capabilities.
		d.unindexLocked(existing)
		card.RegisteredAt = existing.RegisteredAt
	} else {
		card.RegisteredAt = now
	}

	card.Status = AgentActive
	card.LastSeen = now
	stored := card.clone()
	d.cards[card.AgentID] = &stored
	d.indexLocked(&stored)

	d.logger.Info("agent registered",
		zap.String("agent_id", card.AgentID),
		zap.Int("capabilities", len(card.Capabilities)),
	)
	return nil
}

// Deregister marks an agent inactive and removes it from the capability
// index. The card itself is retained.
func (d *Directory) Deregister(agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	card, ok := d.cards[agentID]
	if !ok {
		return ErrUnknownAgent
	}
	card.Status = AgentInactive
	d.unindexLocked(card)

	d.logger.Info("agent deregistered", zap.String("agent_id", agentID))
	return nil
}

// Lookup returns a copy of the card for the given agent id. Inactive
// cards remain visible here.
func (d *Directory) Lookup(agentID string) (AgentCard, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	card, ok := d.cards[agentID]
	if !ok {
		return AgentCard{}, ErrUnknownAgent
	}
	return card.clone(), nil
}

// Known reports whether the agent id is registered, active or not.
func (d *Directory) Known(agentID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.cards[agentID]
	return ok
}

// FindByCapability returns a restartable sequence over a snapshot of the
// active cards advertising the given tag, ordered by agent id. The
// snapshot is taken once, when FindByCapability is called.
func (d *Directory) FindByCapability(tag string) iter.Seq[AgentCard] {
	snapshot := d.activeByCapability(tag)
	return func(yield func(AgentCard) bool) {
		for _, card := range snapshot {
			if !yield(card) {
				return
			}
		}
	}
}

// Touch records observed activity for an agent: LastSeen is refreshed and
// an inactive card is reactivated. Idempotent; repeated calls only move
// the timestamp forward.
func (d *Directory) Touch(agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	card, ok := d.cards[agentID]
	if !ok {
		return ErrUnknownAgent
	}
	card.LastSeen = time.Now().UTC()
	if card.Status != AgentActive {
		card.Status = AgentActive
		d.indexLocked(card)
		d.logger.Info("agent reactivated", zap.String("agent_id", agentID))
	}
	return nil
}

// List returns copies of all cards, active and inactive, ordered by
// agent id.
func (d *Directory) List() []AgentCard {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]AgentCard, 0, len(d.cards))
	for _, card := range d.cards {
		out = append(out, card.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// CapabilityAvailable reports whether at least one active agent
// advertises the given tag.
func (d *Directory) CapabilityAvailable(tag string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for agentID := range d.capabilityIndex[tag] {
		if card, ok := d.cards[agentID]; ok && card.Status == AgentActive {
			return true
		}
	}
	return false
}

// AgentCapable reports whether the given agent is active and advertises
// the given tag.
func (d *Directory) AgentCapable(agentID, tag string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	card, ok := d.cards[agentID]
	return ok && card.Status == AgentActive && card.HasCapability(tag)
}

func (d *Directory) activeByCapability(tag string) []AgentCard {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]AgentCard, 0, len(d.capabilityIndex[tag]))
	for agentID := range d.capabilityIndex[tag] {
		if card, ok := d.cards[agentID]; ok && card.Status == AgentActive {
			out = append(out, card.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// indexLocked adds the card's capabilities to the index.
func (d *Directory) indexLocked(card *AgentCard) {
	for _, tag := range card.Capabilities {
		if d.capabilityIndex[tag] == nil {
			d.capabilityIndex[tag] = make(map[string]struct{})
		}
		d.capabilityIndex[tag][card.AgentID] = struct{}{}
	}
}

// unindexLocked removes the card's capabilities from the index.
func (d *Directory) unindexLocked(card *AgentCard) {
	for _, tag := range card.Capabilities {
		if agents, ok := d.capabilityIndex[tag]; ok {
			delete(agents, card.AgentID)
			if len(agents) == 0 {
				delete(d.capabilityIndex, tag)
			}
		}
	}
}

func (d *Directory) sweepLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep(time.Now().UTC())
		case <-ctx.Done():
			return
		case <-d.done:
			return
		}
	}
}

// sweep marks agents inactive when they have not been seen within the
// liveness timeout. Cost is O(registered agents) per tick.
func (d *Directory) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, card := range d.cards {
		if card.Status != AgentActive {
			continue
		}
		if now.Sub(card.LastSeen) > d.cfg.LivenessTimeout {
			card.Status = AgentInactive
			d.logger.Warn("agent marked inactive",
				zap.String("agent_id", card.AgentID),
				zap.Time("last_seen", card.LastSeen),
			)
		}
	}
}
