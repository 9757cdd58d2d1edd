package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/veriguard/auth-service/internal/client"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	redis *client.RedisClient
	db    *sql.DB
}

func NewHealthHandler(redis *client.RedisClient, db *sql.DB) *HealthHandler {
	return &HealthHandler{redis: redis, db: db}
}

// Live reports process liveness only.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Ready reports dependency health. A degraded dependency fails the
// probe so the instance drops out of rotation instead of serving
// partial answers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if h.redis != nil {
		if err := h.redis.HealthCheck(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
	})
}
