// Package stream serves the event feed over WebSocket. Each connection
// gets its own subscription; slow readers are detached instead of
// stalling the feed.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/agentwire/broadcast"
)

// EventSource provides event subscriptions. *protocol.Protocol satisfies it.
type EventSource interface {
	SubscribeEvents() (*broadcast.Subscription, error)
	SubscribeEventsFrom(fromSeq uint64) (*broadcast.Subscription, error)
	UnsubscribeEvents(subscriberID string)
}

// Config holds WebSocket stream settings.
type Config struct {
	// MaxSessions caps concurrent WebSocket connections.
	MaxSessions int
	// WriteTimeout bounds each event write to a client.
	WriteTimeout time.Duration
}

// DefaultConfig returns the default stream settings.
func DefaultConfig() Config {
	return Config{
		MaxSessions:  256,
		WriteTimeout: 10 * time.Second,
	}
}

// Handler upgrades HTTP requests to WebSocket and pumps events until the
// client disconnects or the subscription is detached.
type Handler struct {
	source   EventSource
	cfg      Config
	logger   *zap.Logger
	sessions *semaphore.Weighted

	mu     sync.Mutex
	active int
}

// NewHandler creates a WebSocket event handler.
func NewHandler(source EventSource, cfg Config, logger *zap.Logger) *Handler {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		source:   source,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "event_stream")),
		sessions: semaphore.NewWeighted(int64(cfg.MaxSessions)),
	}
}

// ActiveSessions reports the number of connected clients.
func (h *Handler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// ServeHTTP handles GET /ws. An optional from query parameter replays
// retained events starting at that sequence before going live.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.TryAcquire(1) {
		http.Error(w, "too many stream sessions", http.StatusServiceUnavailable)
		return
	}
	defer h.sessions.Release(1)

	sub, err := h.subscribe(r)
	if err != nil {
		switch {
		case errors.Is(err, broadcast.ErrReplayUnavailable):
			http.Error(w, err.Error(), http.StatusGone)
		case errors.Is(err, broadcast.ErrClosed):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	defer h.source.UnsubscribeEvents(sub.ID())

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.active++
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.active--
		h.mu.Unlock()
	}()

	h.logger.Debug("stream session opened", zap.String("subscriber_id", sub.ID()))
	h.pump(r.Context(), conn, sub)
}

func (h *Handler) subscribe(r *http.Request) (*broadcast.Subscription, error) {
	raw := r.URL.Query().Get("from")
	if raw == "" {
		return h.source.SubscribeEvents()
	}
	fromSeq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, errors.New("invalid from parameter")
	}
	return h.source.SubscribeEventsFrom(fromSeq)
}

// pump writes subscription events to the connection until the client
// goes away or the subscription ends.
func (h *Handler) pump(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscription) {
	// CloseRead discards inbound frames and cancels the context when
	// the client closes the connection.
	readCtx := conn.CloseRead(ctx)

	for {
		select {
		case <-readCtx.Done():
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case evt, ok := <-sub.Events():
			if !ok {
				h.closeForReason(conn, sub.Err())
				return
			}
			if err := h.writeEvent(readCtx, conn, evt); err != nil {
				h.logger.Debug("stream write failed",
					zap.String("subscriber_id", sub.ID()),
					zap.Error(err))
				conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (h *Handler) writeEvent(ctx context.Context, conn *websocket.Conn, evt broadcast.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (h *Handler) closeForReason(conn *websocket.Conn, reason error) {
	switch {
	case errors.Is(reason, broadcast.ErrSubscriberOverflow):
		conn.Close(websocket.StatusTryAgainLater, "subscriber overflow")
	case errors.Is(reason, broadcast.ErrClosed):
		conn.Close(websocket.StatusGoingAway, "broadcaster closed")
	default:
		conn.Close(websocket.StatusNormalClosure, "subscription ended")
	}
}
