// Package provisioner turns logical workspace records into concrete cluster
// resources: a group namespace with its quota, and per-workspace storage,
// workload, service and secret.
package provisioner

import (
	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/audit"
	"workspace-orchestrator-go/internal/config"
	"workspace-orchestrator-go/internal/k8s"
)

// Provisioner creates and tears down cluster resources for groups and
// workspaces. Stateless between calls; every operation may block on cluster
// I/O.
type Provisioner struct {
	client *k8s.Client
	config *config.Config
	audit  audit.Recorder
	logger *zap.Logger
}

// NewProvisioner creates a new provisioner instance.
func NewProvisioner(client *k8s.Client, cfg *config.Config, recorder audit.Recorder, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Provisioner{
		client: client,
		config: cfg,
		audit:  recorder,
		logger: logger,
	}
}
