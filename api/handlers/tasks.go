package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/protocol"
)

// TaskHandler serves the task lifecycle endpoints.
type TaskHandler struct {
	runtime *protocol.Protocol
	logger  *zap.Logger
}

// CreateTaskRequest is the body of POST /v1/tasks.
type CreateTaskRequest struct {
	Type        string         `json:"type"`
	RequesterID string         `json:"requester_agent_id"`
	Input       map[string]any `json:"input,omitempty"`
}

// ClaimTaskRequest is the body of POST /v1/tasks/{id}/claim.
type ClaimTaskRequest struct {
	ResponderID string `json:"responder_agent_id"`
}

// CompleteTaskRequest is the body of POST /v1/tasks/{id}/complete.
type CompleteTaskRequest struct {
	Output map[string]any `json:"output,omitempty"`
}

// FailTaskRequest is the body of POST /v1/tasks/{id}/fail.
type FailTaskRequest struct {
	Reason string `json:"reason"`
}

// NewTaskHandler creates the task lifecycle handler.
func NewTaskHandler(runtime *protocol.Protocol, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "task_handler")),
	}
}

// HandleCreate handles POST /v1/tasks.
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	t, err := h.runtime.CreateTask(req.Type, req.RequesterID, req.Input)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, t)
}

// HandleList handles GET /v1/tasks.
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.runtime.Tasks())
}

// HandleGet handles GET /v1/tasks/{id}.
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "task id is required", h.logger)
		return
	}

	t, err := h.runtime.GetTask(taskID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, t)
}

// HandleClaim handles POST /v1/tasks/{id}/claim.
func (h *TaskHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req ClaimTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ResponderID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "responder_agent_id is required", h.logger)
		return
	}

	t, err := h.runtime.ClaimTask(taskID, req.ResponderID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, t)
}

// HandleComplete handles POST /v1/tasks/{id}/complete.
func (h *TaskHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req CompleteTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	t, err := h.runtime.CompleteTask(taskID, req.Output)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, t)
}

// HandleFail handles POST /v1/tasks/{id}/fail.
func (h *TaskHandler) HandleFail(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req FailTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	t, err := h.runtime.FailTask(taskID, req.Reason)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, t)
}

// HandleCancel handles POST /v1/tasks/{id}/cancel.
func (h *TaskHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "task id is required", h.logger)
		return
	}

	t, err := h.runtime.CancelTask(taskID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, t)
}
