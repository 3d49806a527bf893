package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/directory"
	"github.com/BaSui01/agentwire/protocol"
)

func newAgentMux(t *testing.T) (*protocol.Protocol, *http.ServeMux) {
	t.Helper()
	p := newTestRuntime(t)
	h := NewAgentHandler(p, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/agents", h.HandleRegister)
	mux.HandleFunc("GET /v1/agents", h.HandleList)
	mux.HandleFunc("GET /v1/agents/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /v1/agents/{id}", h.HandleDeregister)
	mux.HandleFunc("POST /v1/agents/{id}/touch", h.HandleTouch)
	return p, mux
}

func TestAgentRegisterAndGet(t *testing.T) {
	_, mux := newAgentMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/v1/agents", RegisterAgentRequest{
		AgentID:      "agent-seller",
		Name:         "Seller",
		Capabilities: []string{"quote"},
		Endpoint:     "https://seller.example",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created directory.AgentCard
	decodeData(t, rec, &created)
	assert.Equal(t, "agent-seller", created.AgentID)
	assert.Equal(t, directory.AgentActive, created.Status)
	assert.False(t, created.RegisteredAt.IsZero())

	rec = doJSON(t, mux, http.MethodGet, "/v1/agents/agent-seller", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched directory.AgentCard
	decodeData(t, rec, &fetched)
	assert.Equal(t, created.AgentID, fetched.AgentID)
	assert.Equal(t, []string{"quote"}, fetched.Capabilities)
}

func TestAgentRegisterValidation(t *testing.T) {
	_, mux := newAgentMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/v1/agents", RegisterAgentRequest{
		Name: "No ID",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_request", env.Error.Code)
}

func TestAgentRegisterDuplicate(t *testing.T) {
	p, mux := newAgentMux(t)
	registerTestAgents(t, p)

	rec := doJSON(t, mux, http.MethodPost, "/v1/agents", RegisterAgentRequest{
		AgentID: "agent-seller",
		Name:    "Imposter",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAgentGetUnknown(t *testing.T) {
	_, mux := newAgentMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/v1/agents/agent-ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentListAndFilter(t *testing.T) {
	p, mux := newAgentMux(t)
	registerTestAgents(t, p)

	rec := doJSON(t, mux, http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var all []directory.AgentCard
	decodeData(t, rec, &all)
	assert.Len(t, all, 2)

	rec = doJSON(t, mux, http.MethodGet, "/v1/agents?capability=quote", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var quoters []directory.AgentCard
	decodeData(t, rec, &quoters)
	require.Len(t, quoters, 1)
	assert.Equal(t, "agent-seller", quoters[0].AgentID)

	rec = doJSON(t, mux, http.MethodGet, "/v1/agents?capability=unknown", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var none []directory.AgentCard
	decodeData(t, rec, &none)
	assert.Empty(t, none)
}

func TestAgentDeregister(t *testing.T) {
	p, mux := newAgentMux(t)
	registerTestAgents(t, p)

	rec := doJSON(t, mux, http.MethodDelete, "/v1/agents/agent-seller", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Card stays visible but is no longer active.
	card, err := p.Agent("agent-seller")
	require.NoError(t, err)
	assert.Equal(t, directory.AgentInactive, card.Status)

	rec = doJSON(t, mux, http.MethodDelete, "/v1/agents/agent-ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentTouch(t *testing.T) {
	p, mux := newAgentMux(t)
	registerTestAgents(t, p)
	require.NoError(t, p.DeregisterAgent("agent-seller"))

	rec := doJSON(t, mux, http.MethodPost, "/v1/agents/agent-seller/touch", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	card, err := p.Agent("agent-seller")
	require.NoError(t, err)
	assert.Equal(t, directory.AgentActive, card.Status)
}
