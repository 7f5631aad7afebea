// Package capacity computes cluster-wide and per-node spare capacity in
// workspace units. Allocatable (not raw capacity) is the basis for all math,
// since it already excludes reserved system overhead.
package capacity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"workspace-orchestrator-go/internal/config"
	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/quantity"
)

// InstanceTypeLabel is the well-known node label carrying the cloud instance
// type. Informational only; absence is tolerated.
const InstanceTypeLabel = "node.kubernetes.io/instance-type"

// unassignedNode is the sentinel bucket for pods that request resources but
// are not scheduled to any node yet. Counted in cluster totals, never in
// per-node figures.
const unassignedNode = "unassigned"

// Planner computes spare capacity reports. Stateless; every call reads the
// cluster fresh.
type Planner struct {
	client  *k8s.Client
	unitCPU float64
	unitMem int64
	logger  *zap.Logger
}

// NewPlanner creates a capacity planner with the configured workspace unit
// size.
func NewPlanner(client *k8s.Client, cfg *config.Config, logger *zap.Logger) (*Planner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	unitCPU, err := quantity.ParseCPU(cfg.WorkspaceUnitCPU)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace unit cpu: %w", err)
	}
	unitMem, err := quantity.ParseMemory(cfg.WorkspaceUnitMemory)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace unit memory: %w", err)
	}
	if unitCPU <= 0 || unitMem <= 0 {
		return nil, fmt.Errorf("workspace unit size must be positive, got cpu=%s memory=%s",
			cfg.WorkspaceUnitCPU, cfg.WorkspaceUnitMemory)
	}

	return &Planner{
		client:  client,
		unitCPU: unitCPU,
		unitMem: unitMem,
		logger:  logger,
	}, nil
}

// GetClusterCapacity inventories nodes and scheduled pod requests and derives
// spare capacity. Pod enumeration failure degrades the report to zero usage
// rather than failing the query.
func (p *Planner) GetClusterCapacity(ctx context.Context) (*models.ClusterCapacity, error) {
	nodes, err := p.client.Clientset().CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	usage, degraded := p.podUsageByNode(ctx)

	report := &models.ClusterCapacity{
		NodeCount: len(nodes.Items),
		Degraded:  degraded,
	}

	instanceTypes := map[string]bool{}
	for i := range nodes.Items {
		node := &nodes.Items[i]

		alloc := models.ResourceMetrics{
			CPUCores:    quantity.CoresFromQuantity(*node.Status.Allocatable.Cpu()),
			MemoryBytes: quantity.BytesFromQuantity(*node.Status.Allocatable.Memory()),
		}
		used := usage[node.Name]

		available := models.ResourceMetrics{
			CPUCores:    alloc.CPUCores - used.CPUCores,
			MemoryBytes: alloc.MemoryBytes - used.MemoryBytes,
		}

		nc := models.NodeCapacity{
			Name:              node.Name,
			InstanceType:      node.Labels[InstanceTypeLabel],
			Allocatable:       alloc,
			Used:              used,
			Available:         available,
			WorkspaceCapacity: p.workspaceUnits(available),
		}
		report.Nodes = append(report.Nodes, nc)

		report.Allocatable.CPUCores += alloc.CPUCores
		report.Allocatable.MemoryBytes += alloc.MemoryBytes
		report.AvailableWorkspaceCapacity += nc.WorkspaceCapacity

		if nc.InstanceType != "" {
			instanceTypes[nc.InstanceType] = true
		}
	}

	// Cluster-wide usage includes the unassigned bucket.
	for _, used := range usage {
		report.Used.CPUCores += used.CPUCores
		report.Used.MemoryBytes += used.MemoryBytes
	}
	report.Available = models.ResourceMetrics{
		CPUCores:    report.Allocatable.CPUCores - report.Used.CPUCores,
		MemoryBytes: report.Allocatable.MemoryBytes - report.Used.MemoryBytes,
	}

	for it := range instanceTypes {
		report.InstanceTypes = append(report.InstanceTypes, it)
	}
	sort.Strings(report.InstanceTypes)

	return report, nil
}

// podUsageByNode sums container resource requests of Running and Pending
// pods, attributed to the node they are scheduled on. Returns degraded=true
// with zero usage when the enumeration fails.
func (p *Planner) podUsageByNode(ctx context.Context) (map[string]models.ResourceMetrics, bool) {
	pods, err := p.client.Clientset().CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		p.logger.Warn("failed to list pods, reporting capacity assuming no load", zap.Error(err))
		return map[string]models.ResourceMetrics{}, true
	}

	usage := map[string]models.ResourceMetrics{}
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Status.Phase != corev1.PodRunning && pod.Status.Phase != corev1.PodPending {
			continue
		}

		nodeName := pod.Spec.NodeName
		if nodeName == "" {
			nodeName = unassignedNode
		}

		m := usage[nodeName]
		for c := range pod.Spec.Containers {
			requests := pod.Spec.Containers[c].Resources.Requests
			if cpu, ok := requests[corev1.ResourceCPU]; ok {
				m.CPUCores += quantity.CoresFromQuantity(cpu)
			}
			if mem, ok := requests[corev1.ResourceMemory]; ok {
				m.MemoryBytes += quantity.BytesFromQuantity(mem)
			}
		}
		usage[nodeName] = m
	}
	return usage, false
}

// workspaceUnits converts spare capacity into whole workspace units: the
// limiting resource decides, floored at zero.
func (p *Planner) workspaceUnits(available models.ResourceMetrics) int {
	byCPU := available.CPUCores / p.unitCPU
	byMem := float64(available.MemoryBytes) / float64(p.unitMem)

	units := int(math.Floor(math.Min(byCPU, byMem)))
	if units < 0 {
		return 0
	}
	return units
}
