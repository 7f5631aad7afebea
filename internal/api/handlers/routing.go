package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/api/middleware"
	"workspace-orchestrator-go/internal/models"
)

// NamespaceSyncer performs a full routing resync of one namespace
type NamespaceSyncer interface {
	SyncNamespace(ctx context.Context, namespace string) (*models.SyncResult, error)
}

// RoutingHandler handles explicit routing resync requests
type RoutingHandler struct {
	synchronizer NamespaceSyncer
	logger       *zap.Logger
}

// NewRoutingHandler creates a new routing handler
func NewRoutingHandler(synchronizer NamespaceSyncer, logger *zap.Logger) *RoutingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutingHandler{
		synchronizer: synchronizer,
		logger:       logger,
	}
}

// HandleSync handles POST /api/v1/namespaces/{namespace}/routing/sync
func (h *RoutingHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	namespace := chi.URLParam(r, "namespace")

	result, err := h.synchronizer.SyncNamespace(ctx, namespace)
	if err != nil {
		h.logger.Error("routing sync failed",
			zap.Error(err),
			zap.String("namespace", namespace),
		)
		middleware.RoutingSyncsTotal.WithLabelValues("error").Inc()
		respondWithError(w, http.StatusInternalServerError, "routing sync failed")
		return
	}

	middleware.RoutingSyncsTotal.WithLabelValues("success").Inc()
	respondWithJSON(w, http.StatusOK, result)
}
