package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veriguard/auth-service/internal/service"
)

// IPBlockHandler is the admin surface over the deny list.
type IPBlockHandler struct {
	registry *service.IPBlockRegistry
}

func NewIPBlockHandler(registry *service.IPBlockRegistry) *IPBlockHandler {
	return &IPBlockHandler{registry: registry}
}

func (h *IPBlockHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP            string `json:"ip"`
		Reason        string `json:"reason"`
		DurationHours int    `json:"duration_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.IP) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	duration := time.Duration(req.DurationHours) * time.Hour
	rec, err := h.registry.Block(ctx, req.IP, req.Reason, duration)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *IPBlockHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	existed, err := h.registry.Unblock(ctx, ip)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !existed {
		writeJSONError(w, http.StatusNotFound, "no active block")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unblocked": true})
}

func (h *IPBlockHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	active, err := h.registry.ListActive(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"blocks": active,
		"count":  len(active),
	})
}
