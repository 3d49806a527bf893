package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/broadcast"
)

type broadcastSource struct {
	b *broadcast.Broadcaster
}

func (s *broadcastSource) SubscribeEvents() (*broadcast.Subscription, error) {
	return s.b.Subscribe()
}

func (s *broadcastSource) SubscribeEventsFrom(fromSeq uint64) (*broadcast.Subscription, error) {
	return s.b.SubscribeFrom(fromSeq)
}

func (s *broadcastSource) UnsubscribeEvents(subscriberID string) {
	s.b.Unsubscribe(subscriberID)
}

func newStreamServer(t *testing.T, cfg Config, retention int) (*httptest.Server, *broadcast.Broadcaster, *Handler) {
	t.Helper()
	bcfg := broadcast.DefaultConfig()
	if retention > 0 {
		bcfg.RetentionSize = retention
	}
	b := broadcast.NewBroadcaster(bcfg, zap.NewNop())
	t.Cleanup(func() { b.Close() })

	h := NewHandler(&broadcastSource{b: b}, cfg, zap.NewNop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, b, h
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) broadcast.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var evt broadcast.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func publish(t *testing.T, b *broadcast.Broadcaster, evtType broadcast.EventType) broadcast.Event {
	t.Helper()
	evt, err := b.Publish(broadcast.Event{Type: evtType})
	require.NoError(t, err)
	return evt
}

func TestStreamDeliversLiveEvents(t *testing.T) {
	srv, b, _ := newStreamServer(t, DefaultConfig(), 0)
	conn := dial(t, srv, "")

	publish(t, b, broadcast.EventAgentRegistered)
	publish(t, b, broadcast.EventTaskCreated)

	first := readEvent(t, conn)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, broadcast.EventAgentRegistered, first.Type)

	second := readEvent(t, conn)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, broadcast.EventTaskCreated, second.Type)
}

func TestStreamReplayFromSequence(t *testing.T) {
	srv, b, _ := newStreamServer(t, DefaultConfig(), 0)

	publish(t, b, broadcast.EventAgentRegistered)
	publish(t, b, broadcast.EventTaskCreated)
	publish(t, b, broadcast.EventTaskTransitioned)

	conn := dial(t, srv, "from=2")

	assert.Equal(t, uint64(2), readEvent(t, conn).Sequence)
	assert.Equal(t, uint64(3), readEvent(t, conn).Sequence)

	// Live events continue after the backlog with no gap.
	publish(t, b, broadcast.EventTaskTerminal)
	assert.Equal(t, uint64(4), readEvent(t, conn).Sequence)
}

func TestStreamReplayEvicted(t *testing.T) {
	srv, b, _ := newStreamServer(t, DefaultConfig(), 4)

	for range 10 {
		publish(t, b, broadcast.EventTaskCreated)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(srv, "from=1"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestStreamInvalidFromParameter(t *testing.T) {
	srv, _, _ := newStreamServer(t, DefaultConfig(), 0)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(srv, "from=abc"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamSessionLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	srv, _, h := newStreamServer(t, cfg, 0)

	dial(t, srv, "")
	require.Eventually(t, func() bool {
		return h.ActiveSessions() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStreamClientDisconnectReleasesSession(t *testing.T) {
	srv, _, h := newStreamServer(t, DefaultConfig(), 0)

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool {
		return h.ActiveSessions() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool {
		return h.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamBroadcasterClose(t *testing.T) {
	srv, b, _ := newStreamServer(t, DefaultConfig(), 0)
	conn := dial(t, srv, "")

	publish(t, b, broadcast.EventTaskCreated)
	readEvent(t, conn)

	require.NoError(t, b.Close())

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
