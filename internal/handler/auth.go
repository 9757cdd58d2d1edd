package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/veriguard/auth-service/internal/middleware"
	"github.com/veriguard/auth-service/internal/service"
)

// AuthHandler exposes the register, login, refresh and logout flows,
// plus the eligibility verdict for internal callers.
type AuthHandler struct {
	orch       *service.AuthOrchestrator
	aggregator *service.VerificationAggregator
}

func NewAuthHandler(orch *service.AuthOrchestrator, aggregator *service.VerificationAggregator) *AuthHandler {
	return &AuthHandler{orch: orch, aggregator: aggregator}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	account, err := h.orch.Register(ctx, service.RegisterInput{
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		IP:       middleware.ClientIPFromContext(r.Context()),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     account.ID,
		"email":  account.Email,
		"status": account.Status,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Password string `json:"password"`
		MFACode  string `json:"mfa_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	fingerprint, _ := middleware.FingerprintFromContext(r.Context())
	pair, err := h.orch.Login(ctx, service.LoginInput{
		Identity:    req.Identity,
		Password:    req.Password,
		MFACode:     req.MFACode,
		IP:          middleware.ClientIPFromContext(r.Context()),
		Fingerprint: fingerprint,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pair, err := h.orch.Refresh(ctx, req.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.orch.Logout(ctx, req.RefreshToken); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

// Eligibility returns the full verdict with itemized reasons. Internal
// surface; the reason list is meant for support tooling, not end users.
func (h *AuthHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity    string `json:"identity"`
		IP          string `json:"ip"`
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.IP == "" {
		req.IP = middleware.ClientIPFromContext(r.Context())
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	status, err := h.aggregator.CheckLoginEligibility(ctx, req.Identity, req.IP, req.Fingerprint)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
