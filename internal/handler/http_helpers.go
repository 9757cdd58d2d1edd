package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/veriguard/auth-service/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
		},
	})
}

// writeServiceError maps the failure taxonomy to HTTP statuses. User
// messages stay generic; scoring detail never leaves the service.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, service.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, service.ErrExpiredOrExhausted):
		writeJSONError(w, http.StatusGone, "code expired or attempts exhausted")
	case errors.Is(err, service.ErrCodeMismatch):
		writeJSONError(w, http.StatusUnauthorized, "invalid code")
	case errors.Is(err, service.ErrAlreadyVerified):
		writeJSONError(w, http.StatusConflict, "code already used")
	case errors.Is(err, service.ErrInvalidCredentials):
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, service.ErrMFARequired), errors.Is(err, service.ErrMFAInvalid):
		writeJSONError(w, http.StatusUnauthorized, "mfa verification required")
	case errors.Is(err, service.ErrAccountLocked):
		writeJSONError(w, http.StatusForbidden, "account temporarily locked")
	case errors.Is(err, service.ErrAccountSuspended), errors.Is(err, service.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "request refused")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
