package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/broadcast"
	"github.com/BaSui01/agentwire/protocol"
)

// EventHandler serves the event history and runtime stats endpoints.
type EventHandler struct {
	runtime *protocol.Protocol
	logger  *zap.Logger
}

// EventHistoryResponse is the body of GET /v1/events.
type EventHistoryResponse struct {
	Events       []broadcast.Event `json:"events"`
	LastSequence uint64            `json:"last_sequence"`
}

// NewEventHandler creates the event history handler.
func NewEventHandler(runtime *protocol.Protocol, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "event_handler")),
	}
}

// HandleHistory handles GET /v1/events. An optional from query
// parameter returns only retained events with a greater sequence.
func (h *EventHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	var fromSeq uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "invalid from parameter", h.logger)
			return
		}
		fromSeq = parsed
	}

	events, err := h.runtime.EventHistory(fromSeq)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if events == nil {
		events = make([]broadcast.Event, 0)
	}
	WriteSuccess(w, EventHistoryResponse{
		Events:       events,
		LastSequence: h.runtime.LastSequence(),
	})
}

// HandleStats handles GET /v1/stats.
func (h *EventHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.runtime.Stats())
}
