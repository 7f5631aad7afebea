package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/api/middleware"
	"workspace-orchestrator-go/internal/models"
)

// CapacityReporter computes the cluster's spare workspace capacity
type CapacityReporter interface {
	GetClusterCapacity(ctx context.Context) (*models.ClusterCapacity, error)
}

// CapacityHandler handles cluster capacity requests
type CapacityHandler struct {
	planner CapacityReporter
	logger  *zap.Logger
}

// NewCapacityHandler creates a new capacity handler
func NewCapacityHandler(planner CapacityReporter, logger *zap.Logger) *CapacityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityHandler{
		planner: planner,
		logger:  logger,
	}
}

// Handle handles GET /api/v1/cluster/capacity
func (h *CapacityHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.planner.GetClusterCapacity(ctx)
	if err != nil {
		h.logger.Error("capacity query failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "capacity query failed")
		return
	}

	middleware.CapacityAvailableWorkspaces.Set(float64(report.AvailableWorkspaceCapacity))
	respondWithJSON(w, http.StatusOK, report)
}
