package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/redisclient"
)

// HealthHandler handles health and readiness checks
type HealthHandler struct {
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(redis *redisclient.Client, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		redis:  redis,
		logger: logger,
	}
}

// HandleHealth handles GET /api/v1/health (liveness probe)
// Returns 200 unconditionally — the process is alive.
// K8s liveness should NOT depend on external services (Redis),
// otherwise a Redis outage cascades into pod restarts.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := models.HealthResponse{
		Status: "ok",
	}
	respondWithJSON(w, http.StatusOK, response)
}

// HandleReady handles GET /api/v1/ready (readiness probe)
// Redis only backs the routing-sync lock and the audit trail, and both
// degrade gracefully, so a Redis outage never makes the instance unready —
// every cluster-backed operation still works. The probe reports the
// degradation for operators instead of failing.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	redisStatus := "up"
	if err := h.redis.Ping(ctx); err != nil {
		redisStatus = "degraded"
		h.logger.Warn("readiness check: redis unavailable, continuing degraded", zap.Error(err))
	}

	response := map[string]string{
		"status": "ready",
		"redis":  redisStatus,
	}
	respondWithJSON(w, http.StatusOK, response)
}
