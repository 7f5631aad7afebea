package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/api/handlers"
	"workspace-orchestrator-go/internal/api/middleware"
	"workspace-orchestrator-go/internal/capacity"
	"workspace-orchestrator-go/internal/execbridge"
	"workspace-orchestrator-go/internal/health"
	"workspace-orchestrator-go/internal/provisioner"
	"workspace-orchestrator-go/internal/redisclient"
	"workspace-orchestrator-go/internal/routing"
)

// NewRouter creates a new Chi router with all routes and middleware configured
func NewRouter(
	prov *provisioner.Provisioner,
	sync *routing.Synchronizer,
	checker *health.Aggregator,
	planner *capacity.Planner,
	bridge *execbridge.Bridge,
	redis *redisclient.Client,
	version string,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Apply middleware stack. RequestID runs first so recovery and logging
	// can tag their output with it.
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics)

	// Initialize handlers
	namespaceHandler := handlers.NewNamespaceHandler(prov, sync, logger)
	workspaceHandler := handlers.NewWorkspaceHandler(prov, sync, logger)
	routingHandler := handlers.NewRoutingHandler(sync, logger)
	workspaceHealthHandler := handlers.NewWorkspaceHealthHandler(checker, logger)
	capacityHandler := handlers.NewCapacityHandler(planner, logger)
	execHandler := handlers.NewExecHandler(bridge, logger)
	statusHandler := handlers.NewStatusHandler(redis, version, logger)
	healthHandler := handlers.NewHealthHandler(redis, logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(60 * time.Second))

			// Namespace lifecycle
			r.Post("/namespaces", namespaceHandler.HandleCreate)
			r.Delete("/namespaces/{namespace}", namespaceHandler.HandleDelete)
			r.Post("/namespaces/{namespace}/quota", namespaceHandler.HandleQuota)

			// Workspace lifecycle
			r.Post("/namespaces/{namespace}/workspaces", workspaceHandler.HandleCreate)
			r.Delete("/namespaces/{namespace}/workspaces/{name}", workspaceHandler.HandleDelete)
			r.Post("/namespaces/{namespace}/workspaces/{name}/scale", workspaceHandler.HandleScale)
			r.Get("/namespaces/{namespace}/workspaces/{name}/health", workspaceHealthHandler.Handle)

			// Routing resync
			r.Post("/namespaces/{namespace}/routing/sync", routingHandler.HandleSync)

			// Cluster capacity
			r.Get("/cluster/capacity", capacityHandler.Handle)

			// Status endpoint
			r.Get("/status", statusHandler.Handle)

			// Health and readiness endpoints
			r.Get("/health", healthHandler.HandleHealth)
			r.Get("/ready", healthHandler.HandleReady)

			// Metrics endpoint
			r.Get("/metrics", promhttp.Handler().ServeHTTP)
		})

		// Interactive terminal — outside the request timeout, sessions live as
		// long as the caller keeps typing.
		r.Get("/namespaces/{namespace}/pods/{pod}/exec", execHandler.Handle)
	})

	return r
}
