package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/service"
)

// FraudHandler exposes signal scoring to internal and admin callers.
// The structured reason codes are intentionally included here; the
// public auth endpoints never return them.
type FraudHandler struct {
	scorer *service.FraudScorer
}

func NewFraudHandler(scorer *service.FraudScorer) *FraudHandler {
	return &FraudHandler{scorer: scorer}
}

func (h *FraudHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, h.scorer.ScoreEmail)
}

func (h *FraudHandler) CheckPhone(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, h.scorer.ScorePhone)
}

func (h *FraudHandler) CheckIP(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, h.scorer.ScoreIP)
}

func (h *FraudHandler) check(w http.ResponseWriter, r *http.Request, score func(context.Context, string) (models.FraudCheckResult, error)) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Value) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := score(ctx, req.Value)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
