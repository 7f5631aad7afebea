package models

import (
	"time"
)

// WorkspaceStatus is the lifecycle state of a workspace as projected by the
// management API. The orchestrator derives the live value from cluster state;
// this type exists so both sides speak the same vocabulary.
type WorkspaceStatus string

const (
	WorkspacePending  WorkspaceStatus = "PENDING"
	WorkspaceStarting WorkspaceStatus = "STARTING"
	WorkspaceRunning  WorkspaceStatus = "RUNNING"
	WorkspaceStopping WorkspaceStatus = "STOPPING"
	WorkspaceStopped  WorkspaceStatus = "STOPPED"
	WorkspaceError    WorkspaceStatus = "ERROR"
)

// WorkspaceResources holds the resource footprint of a single workspace as
// cluster quantity strings (e.g. "500m", "2", "4Gi").
type WorkspaceResources struct {
	CPU     string `json:"cpu"`
	Memory  string `json:"memory"`
	Storage string `json:"storage"`
}

// WorkspaceSpec is everything the provisioner needs to materialize a
// workspace in a namespace. AccessToken is generated when empty.
type WorkspaceSpec struct {
	ID          string             `json:"id"`
	GroupID     string             `json:"group_id"`
	Name        string             `json:"name"`
	Image       string             `json:"image"`
	Resources   WorkspaceResources `json:"resources"`
	Replicas    int32              `json:"replicas"`
	AccessToken string             `json:"access_token,omitempty"`
}

// QuotaSpec is the hard resource cap applied to a group's namespace,
// aggregated by the management API from all workspaces in the group.
type QuotaSpec struct {
	CPU     string `json:"cpu"`
	Memory  string `json:"memory"`
	Storage string `json:"storage"`
	Pods    int64  `json:"pods"`
}

// ComponentHealthStatus is one probe verdict for one resource backing a
// workspace. Produced fresh on every health query; never persisted.
type ComponentHealthStatus struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"` // statefulset, service, pvc, pod
	Healthy bool              `json:"healthy"`
	Status  string            `json:"status"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ResourceMetrics is a CPU/memory pair used throughout capacity math.
// CPU is in cores, memory in bytes.
type ResourceMetrics struct {
	CPUCores    float64 `json:"cpu_cores"`
	MemoryBytes int64   `json:"memory_bytes"`
}

// NodeCapacity is the per-node slice of a capacity report.
type NodeCapacity struct {
	Name              string          `json:"name"`
	InstanceType      string          `json:"instance_type,omitempty"`
	Allocatable       ResourceMetrics `json:"allocatable"`
	Used              ResourceMetrics `json:"used"`
	Available         ResourceMetrics `json:"available"`
	WorkspaceCapacity int             `json:"workspace_capacity"`
}

// ClusterCapacity is the cluster-wide spare capacity report. Computed fresh
// on every query; never persisted. Degraded is set when pod usage could not
// be read and the report assumes zero load.
type ClusterCapacity struct {
	NodeCount                  int             `json:"node_count"`
	InstanceTypes              []string        `json:"instance_types,omitempty"`
	Allocatable                ResourceMetrics `json:"allocatable"`
	Used                       ResourceMetrics `json:"used"`
	Available                  ResourceMetrics `json:"available"`
	Nodes                      []NodeCapacity  `json:"nodes"`
	AvailableWorkspaceCapacity int             `json:"available_workspace_capacity"`
	Degraded                   bool            `json:"degraded,omitempty"`
}

// CreateNamespaceRequest is the management API payload for group namespace
// provisioning. Quota is optional; when set it is created after the
// namespace becomes active.
type CreateNamespaceRequest struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Quota  *QuotaSpec        `json:"quota,omitempty"`
}

// ScaleRequest scales a workspace's workload between 0 and 1 replicas.
type ScaleRequest struct {
	Replicas int32 `json:"replicas"`
}

// SyncResult reports the outcome of a routing synchronization.
type SyncResult struct {
	Namespace string    `json:"namespace"`
	Services  []string  `json:"services"`
	Paths     []string  `json:"paths"`
	SyncedAt  time.Time `json:"synced_at"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Redis   string `json:"redis"`
}
