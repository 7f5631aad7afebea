package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/redisclient"
)

// StatusHandler handles status requests
type StatusHandler struct {
	redis   *redisclient.Client
	version string
	logger  *zap.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(redis *redisclient.Client, version string, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		redis:   redis,
		version: version,
		logger:  logger,
	}
}

// Handle handles GET /api/v1/status
func (h *StatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	redisStatus := "up"
	if err := h.redis.Ping(ctx); err != nil {
		redisStatus = "down"
		h.logger.Error("status check: redis down", zap.Error(err))
	}

	response := models.StatusResponse{
		Status:  "ok",
		Version: h.version,
		Redis:   redisStatus,
	}

	respondWithJSON(w, http.StatusOK, response)
}
