package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/models"
)

// WorkspaceChecker probes the resources backing one workspace
type WorkspaceChecker interface {
	CheckWorkspace(ctx context.Context, namespace, name string) []models.ComponentHealthStatus
}

// WorkspaceHealthHandler handles per-workspace component health requests
type WorkspaceHealthHandler struct {
	checker WorkspaceChecker
	logger  *zap.Logger
}

// NewWorkspaceHealthHandler creates a new workspace health handler
func NewWorkspaceHealthHandler(checker WorkspaceChecker, logger *zap.Logger) *WorkspaceHealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkspaceHealthHandler{
		checker: checker,
		logger:  logger,
	}
}

// Handle handles GET /api/v1/namespaces/{namespace}/workspaces/{name}/health
func (h *WorkspaceHealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	components := h.checker.CheckWorkspace(ctx, namespace, name)

	healthy := true
	for _, c := range components {
		if !c.Healthy {
			healthy = false
			break
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"workspace":  name,
		"namespace":  namespace,
		"healthy":    healthy,
		"components": components,
	})
}
