package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/exchange"
	"github.com/BaSui01/agentwire/protocol"
)

// MessageHandler serves the message exchange endpoint.
type MessageHandler struct {
	runtime *protocol.Protocol
	logger  *zap.Logger
}

// NewMessageHandler creates the message exchange handler.
func NewMessageHandler(runtime *protocol.Protocol, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "message_handler")),
	}
}

// HandleSend handles POST /v1/messages. Clients retrying a delivery
// reuse the same message_id; the duplicate receipt tells them the first
// attempt already landed.
func (h *MessageHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg exchange.Message
	if err := DecodeJSONBody(w, r, &msg, h.logger); err != nil {
		return
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	receipt, err := h.runtime.HandleMessage(r.Context(), &msg)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, receipt)
}
