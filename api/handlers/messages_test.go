package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/exchange"
	"github.com/BaSui01/agentwire/protocol"
)

func newMessageMux(t *testing.T) (*protocol.Protocol, *http.ServeMux) {
	t.Helper()
	p := newTestRuntime(t)
	registerTestAgents(t, p)
	h := NewMessageHandler(p, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", h.HandleSend)
	return p, mux
}

func TestMessageSend(t *testing.T) {
	p, mux := newMessageMux(t)

	created, err := p.CreateTask("quote", "agent-buyer", nil)
	require.NoError(t, err)

	inbox := make([]*exchange.Message, 0, 1)
	p.AttachHandler("agent-seller", func(ctx context.Context, msg *exchange.Message) error {
		inbox = append(inbox, msg)
		return nil
	})

	msg := exchange.NewMessage(created.ID, "agent-buyer", "agent-seller",
		exchange.TextPart("need a widget quote"))

	rec := doJSON(t, mux, http.MethodPost, "/v1/messages", msg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var receipt exchange.Receipt
	decodeData(t, rec, &receipt)
	assert.Equal(t, msg.ID, receipt.MessageID)
	assert.Equal(t, "agent-seller", receipt.DeliveredTo)
	assert.False(t, receipt.Duplicate)
	require.Len(t, inbox, 1)

	// Retrying with the same message_id is acknowledged but not redelivered.
	rec = doJSON(t, mux, http.MethodPost, "/v1/messages", msg)
	require.Equal(t, http.StatusOK, rec.Code)

	decodeData(t, rec, &receipt)
	assert.True(t, receipt.Duplicate)
	assert.Len(t, inbox, 1)
}

func TestMessageSendUnknownRecipient(t *testing.T) {
	p, mux := newMessageMux(t)

	created, err := p.CreateTask("quote", "agent-buyer", nil)
	require.NoError(t, err)

	msg := exchange.NewMessage(created.ID, "agent-buyer", "agent-ghost",
		exchange.TextPart("hello"))

	rec := doJSON(t, mux, http.MethodPost, "/v1/messages", msg)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "unknown_agent", env.Error.Code)
}

func TestMessageSendStaleCorrelation(t *testing.T) {
	p, mux := newMessageMux(t)

	created, err := p.CreateTask("quote", "agent-buyer", nil)
	require.NoError(t, err)
	_, err = p.ClaimTask(created.ID, "agent-seller")
	require.NoError(t, err)
	_, err = p.CompleteTask(created.ID, nil)
	require.NoError(t, err)

	msg := exchange.NewMessage(created.ID, "agent-buyer", "agent-seller",
		exchange.TextPart("too late"))

	rec := doJSON(t, mux, http.MethodPost, "/v1/messages", msg)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_correlation", env.Error.Code)
}

func TestMessageSendMalformed(t *testing.T) {
	_, mux := newMessageMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/v1/messages", map[string]any{
		"message_id": "msg-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageSendNoHandler(t *testing.T) {
	p, mux := newMessageMux(t)

	created, err := p.CreateTask("quote", "agent-buyer", nil)
	require.NoError(t, err)

	msg := exchange.NewMessage(created.ID, "agent-buyer", "agent-seller",
		exchange.TextPart("anyone home"))

	rec := doJSON(t, mux, http.MethodPost, "/v1/messages", msg)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
