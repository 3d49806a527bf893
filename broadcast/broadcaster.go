package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberCounter generates unique subscriber IDs without relying on
// timestamps, which can collide under concurrency.
var subscriberCounter int64

// Config holds configuration for the Broadcaster.
type Config struct {
	// RetentionSize is the number of most recent events kept for replay.
	RetentionSize int `json:"retention_size" yaml:"retention_size"`

	// SubscriberBuffer is the per-subscriber delivery buffer capacity.
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetentionSize:    1024,
		SubscriberBuffer: 64,
	}
}

// Broadcaster assigns the global event sequence and fans events out to
// subscribers. Publish order equals sequence order; per-subscriber delivery
// preserves that order and may only be truncated by an overflow drop.
type Broadcaster struct {
	mu        sync.Mutex
	cfg       Config
	logger    *zap.Logger
	seq       uint64
	retention *ring
	subs      map[string]*Subscription
	published uint64
	dropped   uint64
	closed    bool
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster(cfg Config, logger *zap.Logger) *Broadcaster {
	if cfg.RetentionSize <= 0 {
		cfg.RetentionSize = DefaultConfig().RetentionSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "broadcaster")),
		retention: newRing(cfg.RetentionSize),
		subs:      make(map[string]*Subscription),
	}
}

// Publish assigns the next global sequence to evt, appends it to the
// retention window and hands it off to every attached subscriber in
// publish order. The handoff is non-blocking: a subscriber whose buffer
// is full is detached with ErrSubscriberOverflow instead of stalling the
// publisher. The returned event carries the assigned sequence.
func (b *Broadcaster) Publish(evt Event) (Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Event{}, ErrClosed
	}

	b.seq++
	evt.Sequence = b.seq
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.EmittedAt.IsZero() {
		evt.EmittedAt = time.Now().UTC()
	}

	b.retention.push(evt)
	b.published++

	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropLocked(sub, ErrSubscriberOverflow)
		}
	}

	return evt, nil
}

// Subscribe attaches a live subscriber that receives events published
// after the call returns.
func (b *Broadcaster) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.attachLocked(nil), nil
}

// SubscribeFrom attaches a subscriber that first receives the retained
// backlog of events with sequence greater than fromSeq, in order, then
// live events. It fails with ErrReplayUnavailable when fromSeq predates
// the retention window, and with ErrSubscriberOverflow when the backlog
// alone exceeds the subscriber buffer.
func (b *Broadcaster) SubscribeFrom(fromSeq uint64) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	backlog, ok := b.backlogLocked(fromSeq)
	if !ok {
		return nil, fmt.Errorf("%w: sequence %d evicted (oldest retained %d)",
			ErrReplayUnavailable, fromSeq, b.retention.oldestSeq())
	}
	if len(backlog) > b.cfg.SubscriberBuffer {
		return nil, fmt.Errorf("%w: backlog of %d exceeds buffer of %d",
			ErrSubscriberOverflow, len(backlog), b.cfg.SubscriberBuffer)
	}

	return b.attachLocked(backlog), nil
}

// Unsubscribe detaches a subscriber. After it returns no further events
// are delivered; the subscription's channel is closed.
func (b *Broadcaster) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[subscriberID]; ok {
		b.detachLocked(sub, nil)
	}
}

// History returns a snapshot of the retained events with sequence greater
// than fromSeq. It fails with ErrReplayUnavailable when fromSeq predates
// the retention window.
func (b *Broadcaster) History(fromSeq uint64) ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	backlog, ok := b.backlogLocked(fromSeq)
	if !ok {
		return nil, fmt.Errorf("%w: sequence %d evicted (oldest retained %d)",
			ErrReplayUnavailable, fromSeq, b.retention.oldestSeq())
	}
	return backlog, nil
}

// LastSequence returns the most recently assigned sequence number.
func (b *Broadcaster) LastSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Stats returns broadcaster counters for observability.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Published:      b.published,
		Dropped:        b.dropped,
		Subscribers:    len(b.subs),
		OldestSequence: b.retention.oldestSeq(),
		LastSequence:   b.seq,
	}
}

// Close detaches every subscriber and rejects further publishes.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		b.detachLocked(sub, ErrClosed)
	}
	return nil
}

// backlogLocked collects the retained events with sequence > fromSeq.
// The second return value is false when events after fromSeq have been
// evicted from the retention window.
func (b *Broadcaster) backlogLocked(fromSeq uint64) ([]Event, bool) {
	if fromSeq >= b.seq {
		return nil, true
	}
	// All events in (fromSeq, seq] must still be retained.
	if oldest := b.retention.oldestSeq(); oldest == 0 || oldest > fromSeq+1 {
		return nil, false
	}
	return b.retention.after(fromSeq), true
}

func (b *Broadcaster) attachLocked(backlog []Event) *Subscription {
	sub := &Subscription{
		id:   fmt.Sprintf("sub-%d", atomic.AddInt64(&subscriberCounter, 1)),
		ch:   make(chan Event, b.cfg.SubscriberBuffer),
		done: make(chan struct{}),
	}
	for _, evt := range backlog {
		sub.ch <- evt
	}
	b.subs[sub.id] = sub
	return sub
}

// detachLocked removes a subscriber and closes its channels. reason is
// nil for a clean unsubscribe.
func (b *Broadcaster) detachLocked(sub *Subscription, reason error) {
	delete(b.subs, sub.id)
	sub.err = reason
	close(sub.done)
	close(sub.ch)
}

func (b *Broadcaster) dropLocked(sub *Subscription, reason error) {
	b.dropped++
	b.logger.Warn("subscriber dropped",
		zap.String("subscriber_id", sub.id),
		zap.Error(reason),
	)
	b.detachLocked(sub, reason)
}

// Stats contains broadcaster counters.
type Stats struct {
	Published      uint64 `json:"published"`
	Dropped        uint64 `json:"dropped"`
	Subscribers    int    `json:"subscribers"`
	OldestSequence uint64 `json:"oldest_sequence"`
	LastSequence   uint64 `json:"last_sequence"`
}

// Subscription is one attached observer of the event stream. Events()
// yields events in strictly increasing sequence order and is closed when
// the subscriber is detached; after Done() is closed, Err() reports the
// detach reason (nil for a clean unsubscribe, ErrSubscriberOverflow for
// an overflow drop).
type Subscription struct {
	id   string
	ch   chan Event
	done chan struct{}
	err  error
}

// ID returns the subscriber identifier, usable with Unsubscribe.
func (s *Subscription) ID() string { return s.id }

// Events returns the ordered delivery channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Done is closed when the subscriber is detached.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscriber was detached. Only valid after Done()
// is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
