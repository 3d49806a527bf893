package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/broadcast"
	"github.com/BaSui01/agentwire/directory"
	"github.com/BaSui01/agentwire/exchange"
	"github.com/BaSui01/agentwire/task"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// WriteCreated writes a success envelope with 201 Created.
func WriteCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// WriteError maps a runtime error onto an HTTP status and writes the
// error envelope.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code := mapError(err)
	if logger != nil {
		logger.Warn("request failed",
			zap.String("code", code),
			zap.Int("status", status),
			zap.Error(err))
	}
	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: err.Error(),
		},
		Timestamp: time.Now().UTC(),
	})
}

// WriteErrorMessage writes a plain error envelope with an explicit status.
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string, logger *zap.Logger) {
	if logger != nil {
		logger.Warn("request failed",
			zap.String("code", code),
			zap.Int("status", status),
			zap.String("message", message))
	}
	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	})
}

// mapError resolves a runtime sentinel error to an HTTP status and a
// stable error code.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, directory.ErrUnknownAgent),
		errors.Is(err, task.ErrUnknownTask):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, directory.ErrDuplicateAgent):
		return http.StatusConflict, "duplicate_agent"
	case errors.Is(err, task.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, task.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized"
	case errors.Is(err, task.ErrNoCapableAgent):
		return http.StatusUnprocessableEntity, "no_capable_agent"
	case errors.Is(err, task.ErrInvalidTask),
		errors.Is(err, directory.ErrMissingAgentID),
		errors.Is(err, directory.ErrMissingName),
		errors.Is(err, exchange.ErrMalformedMessage):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, exchange.ErrUnknownAgent):
		return http.StatusNotFound, "unknown_agent"
	case errors.Is(err, exchange.ErrInvalidCorrelation):
		return http.StatusConflict, "invalid_correlation"
	case errors.Is(err, exchange.ErrDeliveryFailed):
		return http.StatusBadGateway, "delivery_failed"
	case errors.Is(err, broadcast.ErrReplayUnavailable):
		return http.StatusGone, "replay_unavailable"
	case errors.Is(err, broadcast.ErrClosed),
		errors.Is(err, task.ErrManagerClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// DecodeJSONBody decodes a JSON request body into dst. Unknown fields
// are rejected. On failure a 400 response has already been written.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := errors.New("request body is empty")
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", err.Error(), logger)
		return err
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", logger)
		return err
	}
	return nil
}
