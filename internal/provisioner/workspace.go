package provisioner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"workspace-orchestrator-go/internal/audit"
	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/names"
)

// CreateWorkspaceResources creates the storage claim, credential secret,
// workload and service backing one workspace. Creation is once-only and
// fail-loud: already-exists is tolerated per resource, any other error
// propagates immediately. The workload starts at 0 replicas; starting a
// workspace is a scale operation, not a create.
func (p *Provisioner) CreateWorkspaceResources(ctx context.Context, namespace string, spec models.WorkspaceSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("workspace name is required")
	}
	if names.Service(spec.Name) == names.ProxyName {
		// Would silently collide with the shared proxy's service.
		return fmt.Errorf("workspace name %q is reserved", spec.Name)
	}
	if spec.Image == "" {
		return fmt.Errorf("workspace image is required")
	}

	pvc, err := buildPVC(spec)
	if err != nil {
		return err
	}
	_, err = p.client.Clientset().CoreV1().PersistentVolumeClaims(namespace).Create(ctx, pvc, metav1.CreateOptions{})
	if err := k8s.IgnoreAlreadyExists(err); err != nil {
		return fmt.Errorf("failed to create pvc for workspace %s/%s: %w", namespace, spec.Name, err)
	}

	secret := buildSecret(spec)
	_, err = p.client.Clientset().CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{})
	if err := k8s.IgnoreAlreadyExists(err); err != nil {
		return fmt.Errorf("failed to create secret for workspace %s/%s: %w", namespace, spec.Name, err)
	}

	sts, err := p.buildStatefulSet(spec)
	if err != nil {
		return err
	}
	_, err = p.client.Clientset().AppsV1().StatefulSets(namespace).Create(ctx, sts, metav1.CreateOptions{})
	if err := k8s.IgnoreAlreadyExists(err); err != nil {
		return fmt.Errorf("failed to create statefulset for workspace %s/%s: %w", namespace, spec.Name, err)
	}

	service := p.buildService(spec)
	_, err = p.client.Clientset().CoreV1().Services(namespace).Create(ctx, service, metav1.CreateOptions{})
	if err := k8s.IgnoreAlreadyExists(err); err != nil {
		return fmt.Errorf("failed to create service for workspace %s/%s: %w", namespace, spec.Name, err)
	}

	// The routing synchronizer depends on the service showing up in a
	// namespace-wide listing, which can lag point lookups.
	if err := p.waitServiceVisible(ctx, namespace, service.Name); err != nil {
		return err
	}

	p.logger.Info("workspace resources created",
		zap.String("namespace", namespace),
		zap.String("workspace", spec.Name))
	p.audit.Record(ctx, audit.Event{Kind: audit.EventWorkspaceCreated, Namespace: namespace, Subject: spec.Name})
	return nil
}

// waitServiceVisible polls until the service is both individually readable
// and present in a namespace-wide list. Only not-found is visibility lag;
// any other error is a hard failure and propagates immediately.
func (p *Provisioner) waitServiceVisible(ctx context.Context, namespace, serviceName string) error {
	for attempt := 1; attempt <= p.config.ServiceVisibilityAttempts; attempt++ {
		_, getErr := p.client.Clientset().CoreV1().Services(namespace).Get(ctx, serviceName, metav1.GetOptions{})
		if getErr != nil && !k8s.IsNotFound(getErr) {
			return fmt.Errorf("failed to read service %s/%s: %w", namespace, serviceName, getErr)
		}

		listed := false
		if getErr == nil {
			list, listErr := p.client.Clientset().CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
			if listErr != nil {
				return fmt.Errorf("failed to list services in %s: %w", namespace, listErr)
			}
			for i := range list.Items {
				if list.Items[i].Name == serviceName {
					listed = true
					break
				}
			}
		}

		if listed {
			return nil
		}

		if attempt < p.config.ServiceVisibilityAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.ServiceVisibilityDelay):
			}
		}
	}

	return fmt.Errorf("service %s/%s not visible in listing after %d attempts",
		namespace, serviceName, p.config.ServiceVisibilityAttempts)
}

// DeleteWorkspaceResources tears down all resources backing one workspace.
// Not-found is success per resource; a hard error on one resource is
// remembered while teardown of the siblings proceeds.
func (p *Provisioner) DeleteWorkspaceResources(ctx context.Context, namespace, name string) error {
	var firstErr error
	keep := func(err error, kind string) {
		if err := k8s.IgnoreNotFound(err); err != nil {
			p.logger.Error("failed to delete workspace resource",
				zap.String("namespace", namespace),
				zap.String("workspace", name),
				zap.String("kind", kind),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete %s for workspace %s/%s: %w", kind, namespace, name, err)
			}
		}
	}

	cs := p.client.Clientset()
	keep(cs.CoreV1().Services(namespace).Delete(ctx, names.Service(name), metav1.DeleteOptions{}), "service")
	keep(cs.AppsV1().StatefulSets(namespace).Delete(ctx, names.StatefulSet(name), metav1.DeleteOptions{}), "statefulset")
	keep(cs.CoreV1().PersistentVolumeClaims(namespace).Delete(ctx, names.PVC(name), metav1.DeleteOptions{}), "pvc")
	keep(cs.CoreV1().Secrets(namespace).Delete(ctx, names.Secret(name), metav1.DeleteOptions{}), "secret")

	if firstErr != nil {
		return firstErr
	}

	p.logger.Info("workspace resources deleted",
		zap.String("namespace", namespace),
		zap.String("workspace", name))
	p.audit.Record(ctx, audit.Event{Kind: audit.EventWorkspaceDeleted, Namespace: namespace, Subject: name})
	return nil
}

func buildPVC(spec models.WorkspaceSpec) (*corev1.PersistentVolumeClaim, error) {
	storage := spec.Resources.Storage
	if storage == "" {
		storage = "10Gi"
	}
	q, err := resource.ParseQuantity(storage)
	if err != nil {
		return nil, fmt.Errorf("invalid storage quantity %q: %w", storage, err)
	}

	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   names.PVC(spec.Name),
			Labels: workspaceLabels(spec.Name),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: q,
				},
			},
		},
	}, nil
}

// buildSecret holds the workspace's generated access credential, consumed by
// the workload at start via envFrom.
func buildSecret(spec models.WorkspaceSpec) *corev1.Secret {
	token := spec.AccessToken
	if token == "" {
		token = uuid.NewString()
	}

	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:   names.Secret(spec.Name),
			Labels: workspaceLabels(spec.Name),
		},
		Type: corev1.SecretTypeOpaque,
		StringData: map[string]string{
			"WORKSPACE_ACCESS_TOKEN": token,
			"WORKSPACE_NAME":         spec.Name,
		},
	}
}

func (p *Provisioner) buildStatefulSet(spec models.WorkspaceSpec) (*appsv1.StatefulSet, error) {
	requests := corev1.ResourceList{}
	if spec.Resources.CPU != "" {
		q, err := resource.ParseQuantity(spec.Resources.CPU)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu quantity %q: %w", spec.Resources.CPU, err)
		}
		requests[corev1.ResourceCPU] = q
	}
	if spec.Resources.Memory != "" {
		q, err := resource.ParseQuantity(spec.Resources.Memory)
		if err != nil {
			return nil, fmt.Errorf("invalid memory quantity %q: %w", spec.Resources.Memory, err)
		}
		requests[corev1.ResourceMemory] = q
	}

	labels := workspaceLabels(spec.Name)
	replicas := int32(0) // starting a workspace is a scale, never a create

	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:   names.StatefulSet(spec.Name),
			Labels: labels,
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:    &replicas,
			ServiceName: names.Service(spec.Name),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{names.WorkspaceLabel: spec.Name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "workspace",
							Image: spec.Image,
							Ports: []corev1.ContainerPort{
								{ContainerPort: p.config.WorkspacePort, Protocol: corev1.ProtocolTCP},
							},
							Resources: corev1.ResourceRequirements{
								Requests: requests,
								Limits:   requests,
							},
							EnvFrom: []corev1.EnvFromSource{
								{
									SecretRef: &corev1.SecretEnvSource{
										LocalObjectReference: corev1.LocalObjectReference{
											Name: names.Secret(spec.Name),
										},
									},
								},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "data", MountPath: "/workspace"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "data",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: names.PVC(spec.Name),
								},
							},
						},
					},
				},
			},
		},
	}, nil
}

func (p *Provisioner) buildService(spec models.WorkspaceSpec) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   names.Service(spec.Name),
			Labels: workspaceLabels(spec.Name),
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{names.WorkspaceLabel: spec.Name},
			Ports: []corev1.ServicePort{
				{
					Port:       p.config.WorkspacePort,
					TargetPort: intstr.FromInt32(p.config.WorkspacePort),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

func workspaceLabels(name string) map[string]string {
	return map[string]string{
		names.ManagedByLabel: names.ManagedByValue,
		names.WorkspaceLabel: name,
	}
}
