package provisioner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"workspace-orchestrator-go/internal/audit"
	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/names"
)

// CreateNamespace creates a group's namespace and waits for it to become
// active. Already-exists is success; failing to reach the Active phase within
// the configured timeout is a fatal provisioning error.
func (p *Provisioner) CreateNamespace(ctx context.Context, name string, labels map[string]string) error {
	merged := map[string]string{names.ManagedByLabel: names.ManagedByValue}
	for k, v := range labels {
		merged[k] = v
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: merged,
		},
	}

	_, err := p.client.Clientset().CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err := k8s.IgnoreAlreadyExists(err); err != nil {
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}

	if err := p.waitNamespaceActive(ctx, name); err != nil {
		return err
	}

	p.logger.Info("namespace ready", zap.String("namespace", name))
	p.audit.Record(ctx, audit.Event{Kind: audit.EventNamespaceCreated, Namespace: name})
	return nil
}

// waitNamespaceActive polls at a fixed interval until the namespace reports
// the Active phase or the bound is exceeded.
func (p *Provisioner) waitNamespaceActive(ctx context.Context, name string) error {
	err := wait.PollUntilContextTimeout(ctx, p.config.NamespacePollInterval, p.config.NamespaceActiveTimeout, true,
		func(ctx context.Context) (bool, error) {
			ns, err := p.client.Clientset().CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				if k8s.IsNotFound(err) {
					return false, nil
				}
				return false, err
			}
			return ns.Status.Phase == corev1.NamespaceActive, nil
		})
	if err != nil {
		return fmt.Errorf("namespace %s did not become active within %s: %w",
			name, p.config.NamespaceActiveTimeout, err)
	}
	return nil
}

// DeleteNamespace removes a group's namespace and everything in it.
// Not-found is success.
func (p *Provisioner) DeleteNamespace(ctx context.Context, name string) error {
	err := p.client.Clientset().CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if err := k8s.IgnoreNotFound(err); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", name, err)
	}

	p.logger.Info("namespace deleted", zap.String("namespace", name))
	p.audit.Record(ctx, audit.Event{Kind: audit.EventNamespaceDeleted, Namespace: name})
	return nil
}

// CreateResourceQuota applies the group's hard caps to its namespace. A
// freshly created namespace may not be visible to the quota call yet, so
// namespace-not-found is retried a fixed number of times with a fixed delay;
// exhausting the retries is fatal.
func (p *Provisioner) CreateResourceQuota(ctx context.Context, namespace string, spec models.QuotaSpec) error {
	hard := corev1.ResourceList{}
	if spec.CPU != "" {
		q, err := resource.ParseQuantity(spec.CPU)
		if err != nil {
			return fmt.Errorf("invalid quota cpu %q: %w", spec.CPU, err)
		}
		hard[corev1.ResourceRequestsCPU] = q
		hard[corev1.ResourceLimitsCPU] = q
	}
	if spec.Memory != "" {
		q, err := resource.ParseQuantity(spec.Memory)
		if err != nil {
			return fmt.Errorf("invalid quota memory %q: %w", spec.Memory, err)
		}
		hard[corev1.ResourceRequestsMemory] = q
		hard[corev1.ResourceLimitsMemory] = q
	}
	if spec.Storage != "" {
		q, err := resource.ParseQuantity(spec.Storage)
		if err != nil {
			return fmt.Errorf("invalid quota storage %q: %w", spec.Storage, err)
		}
		hard[corev1.ResourceRequestsStorage] = q
	}
	if spec.Pods > 0 {
		hard[corev1.ResourcePods] = *resource.NewQuantity(spec.Pods, resource.DecimalSI)
	}

	quota := &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      namespace + "-quota",
			Namespace: namespace,
			Labels:    map[string]string{names.ManagedByLabel: names.ManagedByValue},
		},
		Spec: corev1.ResourceQuotaSpec{Hard: hard},
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.QuotaRetryAttempts; attempt++ {
		_, err := p.client.Clientset().CoreV1().ResourceQuotas(namespace).Create(ctx, quota, metav1.CreateOptions{})
		if err == nil || k8s.IsAlreadyExists(err) {
			return nil
		}
		if !k8s.IsNotFound(err) {
			return fmt.Errorf("failed to create resource quota in %s: %w", namespace, err)
		}

		// Namespace not yet visible to the quota call.
		lastErr = err
		p.logger.Debug("namespace not yet visible for quota, retrying",
			zap.String("namespace", namespace),
			zap.Int("attempt", attempt))

		if attempt < p.config.QuotaRetryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.QuotaRetryDelay):
			}
		}
	}

	return fmt.Errorf("namespace %s not visible after %d attempts: %w",
		namespace, p.config.QuotaRetryAttempts, lastErr)
}
