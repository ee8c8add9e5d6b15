package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Craverse/craveverse/internal/economy"
)

type apiError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ActiveUntil string `json:"active_until,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: message}})
}

var statusByCode = map[string]int{
	"VALIDATION_ERROR":     http.StatusBadRequest,
	"ITEM_UNAVAILABLE":     http.StatusNotFound,
	"TIER_INSUFFICIENT":    http.StatusForbidden,
	"INSUFFICIENT_FUNDS":   http.StatusPaymentRequired,
	"NOT_FOUND":            http.StatusNotFound,
	"DURATION_MISMATCH":    http.StatusBadRequest,
	"PAUSE_ALREADY_ACTIVE": http.StatusConflict,
	"NO_SKIP_AVAILABLE":    http.StatusNotFound,
	"ALREADY_COMPLETED":    http.StatusConflict,
	"LEVEL_NOT_FOUND":      http.StatusNotFound,
	"LEVEL_LOCKED":         http.StatusForbidden,
	"THEME_NOT_UNLOCKED":   http.StatusNotFound,
	"BUSY":                 http.StatusServiceUnavailable,
	"UNAVAILABLE":          http.StatusServiceUnavailable,
}

// retryAfterSeconds is advertised on BUSY; the user lock clears well within it.
const retryAfterSeconds = "1"

// writeEconomyError maps an engine error onto the envelope. Internal errors
// keep their detail out of the response.
func writeEconomyError(w http.ResponseWriter, err error) {
	code := economy.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
		return
	}

	body := apiError{Code: code, Message: err.Error()}
	var active *economy.PauseActiveError
	if errors.As(err, &active) {
		body.ActiveUntil = active.Until.String()
	}
	switch code {
	case "BUSY":
		w.Header().Set("Retry-After", retryAfterSeconds)
	case "UNAVAILABLE":
		body.Message = "Service temporarily unavailable"
	}
	writeJSON(w, status, errorResponse{Error: body})
}
