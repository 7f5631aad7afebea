package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/api/middleware"
	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/names"
	"workspace-orchestrator-go/internal/routing"
)

// WorkspaceProvisioner defines the workspace-level provisioning operations
type WorkspaceProvisioner interface {
	CreateWorkspaceResources(ctx context.Context, namespace string, spec models.WorkspaceSpec) error
	DeleteWorkspaceResources(ctx context.Context, namespace, name string) error
	ScaleWorkspace(ctx context.Context, namespace, name string, replicas int32) error
}

// RoutingSynchronizer rebuilds namespace routing after workspace changes
type RoutingSynchronizer interface {
	SyncNamespaceExpecting(ctx context.Context, namespace string, exp routing.Expectation) (*models.SyncResult, error)
}

// WorkspaceHandler handles workspace lifecycle requests
type WorkspaceHandler struct {
	provisioner  WorkspaceProvisioner
	synchronizer RoutingSynchronizer
	logger       *zap.Logger
}

// NewWorkspaceHandler creates a new workspace handler
func NewWorkspaceHandler(provisioner WorkspaceProvisioner, synchronizer RoutingSynchronizer, logger *zap.Logger) *WorkspaceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkspaceHandler{
		provisioner:  provisioner,
		synchronizer: synchronizer,
		logger:       logger,
	}
}

// HandleCreate handles POST /api/v1/namespaces/{namespace}/workspaces
func (h *WorkspaceHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	namespace := chi.URLParam(r, "namespace")

	var spec models.WorkspaceSpec
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.logger.Warn("failed to decode workspace request", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if spec.Name == "" {
		respondWithError(w, http.StatusBadRequest, "name is required")
		return
	}
	if spec.Image == "" {
		respondWithError(w, http.StatusBadRequest, "image is required")
		return
	}

	if err := h.provisioner.CreateWorkspaceResources(ctx, namespace, spec); err != nil {
		h.logger.Error("workspace creation failed",
			zap.Error(err),
			zap.String("namespace", namespace),
			zap.String("workspace", spec.Name),
		)
		middleware.ProvisionsTotal.WithLabelValues("workspace", "error").Inc()
		respondWithError(w, http.StatusInternalServerError, "workspace creation failed")
		return
	}
	middleware.ProvisionsTotal.WithLabelValues("workspace", "success").Inc()

	serviceName := names.Service(spec.Name)
	sync, err := h.synchronizer.SyncNamespaceExpecting(ctx, namespace, routing.Expectation{Present: serviceName})
	if err != nil {
		// Resources exist; the caller can retry routing via the sync endpoint.
		h.logger.Error("routing sync after workspace creation failed",
			zap.Error(err),
			zap.String("namespace", namespace),
			zap.String("workspace", spec.Name),
		)
		middleware.RoutingSyncsTotal.WithLabelValues("error").Inc()
		respondWithError(w, http.StatusInternalServerError, "workspace created but routing sync failed")
		return
	}
	middleware.RoutingSyncsTotal.WithLabelValues("success").Inc()

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"workspace": spec.Name,
		"service":   serviceName,
		"path":      names.PathPrefix(namespace, serviceName),
		"sync":      sync,
	})
}

// HandleDelete handles DELETE /api/v1/namespaces/{namespace}/workspaces/{name}
func (h *WorkspaceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	if err := h.provisioner.DeleteWorkspaceResources(ctx, namespace, name); err != nil {
		h.logger.Error("workspace deletion failed",
			zap.Error(err),
			zap.String("namespace", namespace),
			zap.String("workspace", name),
		)
		respondWithError(w, http.StatusInternalServerError, "workspace deletion failed")
		return
	}

	sync, err := h.synchronizer.SyncNamespaceExpecting(ctx, namespace, routing.Expectation{Absent: names.Service(name)})
	if err != nil {
		h.logger.Error("routing sync after workspace deletion failed",
			zap.Error(err),
			zap.String("namespace", namespace),
			zap.String("workspace", name),
		)
		middleware.RoutingSyncsTotal.WithLabelValues("error").Inc()
		respondWithError(w, http.StatusInternalServerError, "workspace deleted but routing sync failed")
		return
	}
	middleware.RoutingSyncsTotal.WithLabelValues("success").Inc()

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"workspace": name,
		"status":    "deleted",
		"sync":      sync,
	})
}

// HandleScale handles POST /api/v1/namespaces/{namespace}/workspaces/{name}/scale
func (h *WorkspaceHandler) HandleScale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	var req models.ScaleRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode scale request", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Replicas != 0 && req.Replicas != 1 {
		respondWithError(w, http.StatusBadRequest, "replicas must be 0 or 1")
		return
	}

	if err := h.provisioner.ScaleWorkspace(ctx, namespace, name, req.Replicas); err != nil {
		if k8s.IsNotFound(err) {
			respondWithError(w, http.StatusNotFound, "workspace not found")
			return
		}
		h.logger.Error("workspace scaling failed",
			zap.Error(err),
			zap.String("namespace", namespace),
			zap.String("workspace", name),
			zap.Int32("replicas", req.Replicas),
		)
		respondWithError(w, http.StatusInternalServerError, "workspace scaling failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"workspace": name,
		"replicas":  req.Replicas,
	})
}
