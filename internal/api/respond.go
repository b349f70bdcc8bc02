package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"exchange-dashboard/internal/core"
	"exchange-dashboard/internal/safety"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Message: message})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// statusFor maps a call failure onto the dashboard's status contract.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, safety.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidCredential),
		errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrKeyDisabled),
		errors.Is(err, core.ErrUnknownExchange):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// messageFor renders the user-facing message for a failed exchange route.
func messageFor(id core.ExchangeID, err error) string {
	name := id.DisplayName()
	switch {
	case errors.Is(err, core.ErrRateLimited):
		return "Rate limited by " + name + " API. Please try again in a few minutes."
	case errors.Is(err, core.ErrNotFound):
		return "No " + name + " API credentials found. Please add your API keys in the API Keys section."
	case errors.Is(err, core.ErrKeyDisabled):
		return "Your " + name + " API key is disabled. Please enable it in the API Keys section."
	case errors.Is(err, safety.ErrCircuitOpen):
		return name + " API is temporarily unavailable. Please try again shortly."
	}
	return err.Error()
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, id core.ExchangeID, err error) {
	status := statusFor(err)
	ev := s.log.Warn()
	if status >= 500 {
		ev = s.log.Error()
	}
	requestID, _ := r.Context().Value(requestIDKey).(string)
	ev.Err(err).Str("request_id", requestID).Str("exchange", string(id)).Int("status", status).Msg("exchange route failed")
	writeFailure(w, status, messageFor(id, err))
}
