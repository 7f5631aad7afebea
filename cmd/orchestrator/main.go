package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"workspace-orchestrator-go/internal/api"
	"workspace-orchestrator-go/internal/audit"
	"workspace-orchestrator-go/internal/capacity"
	"workspace-orchestrator-go/internal/config"
	"workspace-orchestrator-go/internal/execbridge"
	"workspace-orchestrator-go/internal/health"
	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/provisioner"
	"workspace-orchestrator-go/internal/redisclient"
	"workspace-orchestrator-go/internal/routing"
)

func main() {
	// Create root context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Workspace Orchestrator",
		zap.String("version", cfg.AppVersion),
	)

	// Create Redis client
	redisClient, err := redisclient.NewClient(cfg)
	if err != nil {
		logger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Error closing Redis connection", zap.Error(err))
		}
	}()

	// Test Redis connection
	if err := redisClient.Ping(ctx); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	logger.Info("Connected to Redis")

	// Create Kubernetes client
	k8sClient, err := k8s.NewClient(cfg.K8sInCluster, cfg.K8sKubeConfigPath)
	if err != nil {
		logger.Fatal("Failed to create Kubernetes client", zap.Error(err))
	}
	logger.Info("Kubernetes client created successfully",
		zap.Bool("in_cluster", cfg.K8sInCluster),
	)

	// Create components
	recorder := audit.NewRedisRecorder(redisClient.GetRedis(), cfg.AuditStream, cfg.AuditStreamMaxLen, logger)
	prov := provisioner.NewProvisioner(k8sClient, cfg, recorder, logger)
	synchronizer := routing.NewSynchronizer(k8sClient, cfg, redisClient.GetRedis(), logger)
	aggregator := health.NewAggregator(k8sClient, logger)
	bridge := execbridge.NewBridge(k8sClient, cfg, recorder, logger)

	planner, err := capacity.NewPlanner(k8sClient, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create capacity planner", zap.Error(err))
	}

	// Create router
	router := api.NewRouter(prov, synchronizer, aggregator, planner, bridge, redisClient, cfg.AppVersion, logger)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
		// No write timeout: exec sessions stream for as long as a terminal
		// stays open. Per-route timeouts cover the regular endpoints.
	}

	// Start metrics server (if different port) — separate minimal mux for security
	var metricsServer *http.Server
	if cfg.MetricsPort != cfg.ServerPort {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
	}

	// Start health check goroutine
	go runHealthChecks(ctx, redisClient, logger)

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start servers in goroutines
	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info("Starting metrics server", zap.String("port", cfg.MetricsPort))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("Workspace Orchestrator started successfully",
		zap.String("http_port", cfg.ServerPort),
		zap.String("metrics_port", cfg.MetricsPort),
	)

	// Wait for shutdown signal
	<-quit
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Cancel root context to stop background processes and live exec sessions
	cancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		logger.Info("HTTP server shut down gracefully")
	}

	// Shutdown metrics server if running
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	logger.Info("Workspace Orchestrator shutdown complete")
}

func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)

	if cfg.LogFormat == "console" {
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return config.Build()
}

func runHealthChecks(ctx context.Context, redisClient *redisclient.Client, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := redisClient.Ping(ctx); err != nil {
				logger.Warn("Redis health check failed", zap.Error(err))
			}
		}
	}
}
