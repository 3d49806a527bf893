package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/directory"
	"github.com/BaSui01/agentwire/protocol"
)

// AgentHandler serves the agent directory endpoints.
type AgentHandler struct {
	runtime *protocol.Protocol
	logger  *zap.Logger
}

// RegisterAgentRequest is the body of POST /v1/agents.
type RegisterAgentRequest struct {
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint,omitempty"`
}

// NewAgentHandler creates the agent directory handler.
func NewAgentHandler(runtime *protocol.Protocol, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "agent_handler")),
	}
}

// HandleRegister handles POST /v1/agents.
func (h *AgentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	card := directory.AgentCard{
		AgentID:      req.AgentID,
		Name:         req.Name,
		Capabilities: req.Capabilities,
		Endpoint:     req.Endpoint,
	}
	if err := h.runtime.RegisterAgent(card); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	stored, err := h.runtime.Agent(req.AgentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, stored)
}

// HandleList handles GET /v1/agents. An optional capability query
// parameter narrows the result to agents advertising that tag.
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if tag := r.URL.Query().Get("capability"); tag != "" {
		cards := make([]directory.AgentCard, 0)
		for card := range h.runtime.FindByCapability(tag) {
			cards = append(cards, card)
		}
		WriteSuccess(w, cards)
		return
	}
	WriteSuccess(w, h.runtime.Agents())
}

// HandleGet handles GET /v1/agents/{id}.
func (h *AgentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "agent id is required", h.logger)
		return
	}

	card, err := h.runtime.Agent(agentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, card)
}

// HandleDeregister handles DELETE /v1/agents/{id}.
func (h *AgentHandler) HandleDeregister(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "agent id is required", h.logger)
		return
	}

	if err := h.runtime.DeregisterAgent(agentID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"agent_id": agentID, "status": "inactive"})
}

// HandleTouch handles POST /v1/agents/{id}/touch, the liveness heartbeat.
func (h *AgentHandler) HandleTouch(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "agent id is required", h.logger)
		return
	}

	if err := h.runtime.TouchAgent(agentID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"agent_id": agentID, "status": "active"})
}
