package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/api/middleware"
	"workspace-orchestrator-go/internal/models"
)

// NamespaceProvisioner defines the namespace-level provisioning operations
type NamespaceProvisioner interface {
	CreateNamespace(ctx context.Context, name string, labels map[string]string) error
	DeleteNamespace(ctx context.Context, name string) error
	CreateResourceQuota(ctx context.Context, namespace string, spec models.QuotaSpec) error
}

// ProxyEnsurer bootstraps the reverse proxy of a fresh namespace
type ProxyEnsurer interface {
	EnsureProxy(ctx context.Context, namespace string) error
}

// NamespaceHandler handles group namespace lifecycle requests
type NamespaceHandler struct {
	provisioner NamespaceProvisioner
	proxy       ProxyEnsurer
	logger      *zap.Logger
}

// NewNamespaceHandler creates a new namespace handler
func NewNamespaceHandler(provisioner NamespaceProvisioner, proxy ProxyEnsurer, logger *zap.Logger) *NamespaceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NamespaceHandler{
		provisioner: provisioner,
		proxy:       proxy,
		logger:      logger,
	}
}

// HandleCreate handles POST /api/v1/namespaces
func (h *NamespaceHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CreateNamespaceRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode namespace request", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.provisioner.CreateNamespace(ctx, req.Name, req.Labels); err != nil {
		h.logger.Error("namespace creation failed",
			zap.Error(err),
			zap.String("namespace", req.Name),
		)
		middleware.ProvisionsTotal.WithLabelValues("namespace", "error").Inc()
		respondWithError(w, http.StatusInternalServerError, "namespace creation failed")
		return
	}

	if req.Quota != nil {
		if err := h.provisioner.CreateResourceQuota(ctx, req.Name, *req.Quota); err != nil {
			h.logger.Error("quota creation failed",
				zap.Error(err),
				zap.String("namespace", req.Name),
			)
			middleware.ProvisionsTotal.WithLabelValues("quota", "error").Inc()
			respondWithError(w, http.StatusInternalServerError, "quota creation failed")
			return
		}
		middleware.ProvisionsTotal.WithLabelValues("quota", "success").Inc()
	}

	// Bring up the namespace proxy immediately so workspace routing has a
	// target from the first sync on.
	if err := h.proxy.EnsureProxy(ctx, req.Name); err != nil {
		h.logger.Error("proxy bootstrap failed",
			zap.Error(err),
			zap.String("namespace", req.Name),
		)
		middleware.ProvisionsTotal.WithLabelValues("proxy", "error").Inc()
		respondWithError(w, http.StatusInternalServerError, "proxy bootstrap failed")
		return
	}

	middleware.ProvisionsTotal.WithLabelValues("namespace", "success").Inc()
	respondWithJSON(w, http.StatusCreated, map[string]string{
		"namespace": req.Name,
		"status":    "created",
	})
}

// HandleDelete handles DELETE /api/v1/namespaces/{namespace}
func (h *NamespaceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	namespace := chi.URLParam(r, "namespace")

	if err := h.provisioner.DeleteNamespace(ctx, namespace); err != nil {
		h.logger.Error("namespace deletion failed",
			zap.Error(err),
			zap.String("namespace", namespace),
		)
		respondWithError(w, http.StatusInternalServerError, "namespace deletion failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"namespace": namespace,
		"status":    "deleted",
	})
}

// HandleQuota handles POST /api/v1/namespaces/{namespace}/quota
func (h *NamespaceHandler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	namespace := chi.URLParam(r, "namespace")

	var spec models.QuotaSpec
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.logger.Warn("failed to decode quota request", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.provisioner.CreateResourceQuota(ctx, namespace, spec); err != nil {
		h.logger.Error("quota creation failed",
			zap.Error(err),
			zap.String("namespace", namespace),
		)
		middleware.ProvisionsTotal.WithLabelValues("quota", "error").Inc()
		respondWithError(w, http.StatusInternalServerError, "quota creation failed")
		return
	}

	middleware.ProvisionsTotal.WithLabelValues("quota", "success").Inc()
	respondWithJSON(w, http.StatusCreated, map[string]string{
		"namespace": namespace,
		"status":    "quota created",
	})
}
