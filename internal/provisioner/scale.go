package provisioner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"workspace-orchestrator-go/internal/audit"
	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/names"
)

// ScaleWorkspace scales a workspace's workload between 0 and 1 replicas.
// Read-modify-write; the last writer wins, consistent with single-owner
// usage. Scaling to 0 after the workload was deleted is success.
func (p *Provisioner) ScaleWorkspace(ctx context.Context, namespace, name string, replicas int32) error {
	if replicas < 0 || replicas > 1 {
		return fmt.Errorf("workspace replicas must be 0 or 1, got %d", replicas)
	}

	stsName := names.StatefulSet(name)
	sts, err := p.client.Clientset().AppsV1().StatefulSets(namespace).Get(ctx, stsName, metav1.GetOptions{})
	if err != nil {
		if k8s.IsNotFound(err) && replicas == 0 {
			return nil
		}
		return fmt.Errorf("failed to get statefulset for workspace %s/%s: %w", namespace, name, err)
	}

	if sts.Spec.Replicas != nil && *sts.Spec.Replicas == replicas {
		return nil
	}

	sts.Spec.Replicas = &replicas
	_, err = p.client.Clientset().AppsV1().StatefulSets(namespace).Update(ctx, sts, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("failed to scale workspace %s/%s to %d: %w", namespace, name, replicas, err)
	}

	p.logger.Info("workspace scaled",
		zap.String("namespace", namespace),
		zap.String("workspace", name),
		zap.Int32("replicas", replicas))
	p.audit.Record(ctx, audit.Event{
		Kind:      audit.EventWorkspaceScaled,
		Namespace: namespace,
		Subject:   name,
		Detail:    fmt.Sprintf("replicas=%d", replicas),
	})
	return nil
}
