package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/veriguard/auth-service/internal/middleware"
	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/service"
)

// OTPHandler exposes code issuance and verification. The code itself
// never appears in a response; it travels through the notification
// dispatcher.
type OTPHandler struct {
	ledger *service.OtpLedger
}

func NewOTPHandler(ledger *service.OtpLedger) *OTPHandler {
	return &OTPHandler{ledger: ledger}
}

func parsePurpose(s string) (models.OTPPurpose, bool) {
	switch models.OTPPurpose(strings.ToUpper(strings.TrimSpace(s))) {
	case models.PurposeEmailVerification:
		return models.PurposeEmailVerification, true
	case models.PurposePhoneVerification:
		return models.PurposePhoneVerification, true
	case models.PurposePasswordReset:
		return models.PurposePasswordReset, true
	case models.PurposeLoginChallenge:
		return models.PurposeLoginChallenge, true
	}
	return "", false
}

func (h *OTPHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Purpose string `json:"purpose"`
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Subject) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}
	purpose, ok := parsePurpose(req.Purpose)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown purpose")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.ledger.Issue(ctx, purpose, req.Subject, middleware.ClientIPFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":                 rec.ID,
		"expires_in_seconds": int(time.Until(rec.ExpiresAt).Seconds()),
	})
}

func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		Code    string `json:"code"`
		Purpose string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}
	purpose, ok := parsePurpose(req.Purpose)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown purpose")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	subject, err := h.ledger.Verify(ctx, req.ID, req.Code, purpose)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified": true,
		"subject":  subject,
	})
}
