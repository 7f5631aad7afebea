// Package routing keeps each namespace's reverse-proxy configuration and
// routing object an exact function of the workspace services currently
// visible in that namespace. Rebuilds always recompute from the live service
// list; nothing is incrementally patched, so the published state can never
// drift from the cluster's truth.
package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"workspace-orchestrator-go/internal/config"
	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/names"
)

const proxyServicePort = int32(80)

// Expectation hints the synchronizer about a service the caller just created
// or deleted, so list-visibility lag can be retried instead of silently
// publishing stale routes.
type Expectation struct {
	Present string // service name expected to appear in the listing
	Absent  string // service name expected to be gone from the listing
}

// Synchronizer rebuilds and republishes routing state per namespace.
// Invocations for different namespaces are fully independent.
type Synchronizer struct {
	client *k8s.Client
	config *config.Config
	redis  *redis.Client // nil disables per-namespace serialization
	logger *zap.Logger
}

// NewSynchronizer creates a new routing synchronizer.
func NewSynchronizer(client *k8s.Client, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		client: client,
		config: cfg,
		redis:  redisClient,
		logger: logger,
	}
}

// SyncNamespace rebuilds the namespace's proxy config and routing object from
// the authoritative current service list.
func (s *Synchronizer) SyncNamespace(ctx context.Context, namespace string) (*models.SyncResult, error) {
	return s.SyncNamespaceExpecting(ctx, namespace, Expectation{})
}

// SyncNamespaceExpecting is SyncNamespace with a visibility hint for a
// just-created or just-deleted service.
func (s *Synchronizer) SyncNamespaceExpecting(ctx context.Context, namespace string, exp Expectation) (*models.SyncResult, error) {
	release := s.acquireLock(ctx, namespace)
	defer release()

	services, err := s.listWorkspaceServices(ctx, namespace, exp)
	if err != nil {
		return nil, err
	}
	sort.Strings(services)

	if err := s.publishProxyConfig(ctx, namespace, services); err != nil {
		return nil, err
	}

	if err := s.publishIngress(ctx, namespace, services); err != nil {
		return nil, err
	}

	// Best effort: the proxy picks up config on its next natural restart if
	// this fails.
	if err := s.restartProxy(ctx, namespace); err != nil {
		s.logger.Warn("failed to restart proxy after config change",
			zap.String("namespace", namespace), zap.Error(err))
	}

	paths := make([]string, 0, len(services))
	for _, svc := range services {
		paths = append(paths, names.PathPrefix(namespace, svc))
	}

	s.logger.Info("routing synchronized",
		zap.String("namespace", namespace),
		zap.Int("services", len(services)))

	return &models.SyncResult{
		Namespace: namespace,
		Services:  services,
		Paths:     paths,
		SyncedAt:  time.Now().UTC(),
	}, nil
}

// listWorkspaceServices lists the namespace's workspace services, retrying a
// bounded number of times when the expectation is not yet reflected. After
// the bound, it proceeds with whatever is visible: convergence here is best
// effort, not strict.
func (s *Synchronizer) listWorkspaceServices(ctx context.Context, namespace string, exp Expectation) ([]string, error) {
	var services []string

	for attempt := 1; ; attempt++ {
		list, err := s.client.Clientset().CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to list services in %s: %w", namespace, err)
		}

		services = services[:0]
		for i := range list.Items {
			if names.IsWorkspaceService(list.Items[i].Name) {
				services = append(services, list.Items[i].Name)
			}
		}

		if s.expectationMet(services, exp) || attempt >= s.config.RoutingListRetries {
			if !s.expectationMet(services, exp) {
				s.logger.Warn("service list did not converge, publishing visible state",
					zap.String("namespace", namespace),
					zap.String("expect_present", exp.Present),
					zap.String("expect_absent", exp.Absent),
					zap.Int("attempts", attempt))
			}
			return services, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.RoutingListDelay):
		}
	}
}

func (s *Synchronizer) expectationMet(services []string, exp Expectation) bool {
	if exp.Present != "" && !contains(services, exp.Present) {
		return false
	}
	if exp.Absent != "" && contains(services, exp.Absent) {
		return false
	}
	return true
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}

func (s *Synchronizer) proxyConfigMap(namespace string, services []string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      names.ProxyConfigMapName,
			Namespace: namespace,
			Labels:    map[string]string{names.ManagedByLabel: names.ManagedByValue},
		},
		Data: map[string]string{ConfigKey: buildProxyConfig(namespace, services, s.config.WorkspacePort)},
	}
}

// publishProxyConfig republishes the fully regenerated nginx config as the
// proxy's ConfigMap: fetch-if-exists-then-replace, or create-if-absent.
func (s *Synchronizer) publishProxyConfig(ctx context.Context, namespace string, services []string) error {
	cm := s.proxyConfigMap(namespace, services)

	existing, err := s.client.Clientset().CoreV1().ConfigMaps(namespace).Get(ctx, names.ProxyConfigMapName, metav1.GetOptions{})
	if err != nil {
		if !k8s.IsNotFound(err) {
			return fmt.Errorf("failed to read proxy config in %s: %w", namespace, err)
		}
		_, err = s.client.Clientset().CoreV1().ConfigMaps(namespace).Create(ctx, cm, metav1.CreateOptions{})
		if err := k8s.IgnoreAlreadyExists(err); err != nil {
			return fmt.Errorf("failed to create proxy config in %s: %w", namespace, err)
		}
		return nil
	}

	existing.Data = cm.Data
	existing.Labels = cm.Labels
	if _, err := s.client.Clientset().CoreV1().ConfigMaps(namespace).Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update proxy config in %s: %w", namespace, err)
	}
	return nil
}

// publishIngress rebuilds the namespace's routing object: one path-prefix
// rule per workspace service, all pointing at the shared proxy, scoped to the
// shared hostname.
func (s *Synchronizer) publishIngress(ctx context.Context, namespace string, services []string) error {
	pathType := networkingv1.PathTypePrefix

	paths := make([]networkingv1.HTTPIngressPath, 0, len(services)+1)
	for _, svc := range services {
		paths = append(paths, networkingv1.HTTPIngressPath{
			Path:     names.PathPrefix(namespace, svc),
			PathType: &pathType,
			Backend: networkingv1.IngressBackend{
				Service: &networkingv1.IngressServiceBackend{
					Name: names.ProxyName,
					Port: networkingv1.ServiceBackendPort{Number: proxyServicePort},
				},
			},
		})
	}
	if len(paths) == 0 {
		// An ingress needs at least one path to stay valid; route the bare
		// namespace prefix to the proxy's 404 handler.
		paths = append(paths, networkingv1.HTTPIngressPath{
			Path:     "/" + namespace,
			PathType: &pathType,
			Backend: networkingv1.IngressBackend{
				Service: &networkingv1.IngressServiceBackend{
					Name: names.ProxyName,
					Port: networkingv1.ServiceBackendPort{Number: proxyServicePort},
				},
			},
		})
	}

	ingressClass := s.config.IngressClass
	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      names.IngressName,
			Namespace: namespace,
			Labels:    map[string]string{names.ManagedByLabel: names.ManagedByValue},
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: &ingressClass,
			Rules: []networkingv1.IngressRule{
				{
					Host: s.config.RoutingHostname,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{Paths: paths},
					},
				},
			},
		},
	}

	existing, err := s.client.Clientset().NetworkingV1().Ingresses(namespace).Get(ctx, names.IngressName, metav1.GetOptions{})
	if err != nil {
		if !k8s.IsNotFound(err) {
			return fmt.Errorf("failed to read routing object in %s: %w", namespace, err)
		}
		_, err = s.client.Clientset().NetworkingV1().Ingresses(namespace).Create(ctx, ingress, metav1.CreateOptions{})
		if err := k8s.IgnoreAlreadyExists(err); err != nil {
			return fmt.Errorf("failed to create routing object in %s: %w", namespace, err)
		}
		return nil
	}

	existing.Spec = ingress.Spec
	existing.Labels = ingress.Labels
	if _, err := s.client.Clientset().NetworkingV1().Ingresses(namespace).Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update routing object in %s: %w", namespace, err)
	}
	return nil
}

// restartProxy asks the proxy deployment to roll so it picks up the new
// config.
func (s *Synchronizer) restartProxy(ctx context.Context, namespace string) error {
	deployments := s.client.Clientset().AppsV1().Deployments(namespace)
	proxy, err := deployments.Get(ctx, names.ProxyName, metav1.GetOptions{})
	if err != nil {
		return err
	}

	if proxy.Spec.Template.Annotations == nil {
		proxy.Spec.Template.Annotations = map[string]string{}
	}
	proxy.Spec.Template.Annotations["kubectl.kubernetes.io/restartedAt"] = time.Now().UTC().Format(time.RFC3339)

	_, err = deployments.Update(ctx, proxy, metav1.UpdateOptions{})
	return err
}

// EnsureProxy creates the namespace's shared reverse-proxy deployment and
// service if they do not exist. Called once per group during provisioning.
func (s *Synchronizer) EnsureProxy(ctx context.Context, namespace string) error {
	// Seed the config only when absent. Namespace creation is replayable, so
	// a repeated EnsureProxy must not overwrite routes a sync already
	// published.
	seed := s.proxyConfigMap(namespace, nil)
	_, err := s.client.Clientset().CoreV1().ConfigMaps(namespace).Create(ctx, seed, metav1.CreateOptions{})
	if err := k8s.IgnoreAlreadyExists(err); err != nil {
		return fmt.Errorf("failed to seed proxy config in %s: %w", namespace, err)
	}

	replicas := int32(1)
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      names.ProxyName,
			Namespace: namespace,
			Labels:    map[string]string{names.ManagedByLabel: names.ManagedByValue},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": names.ProxyName},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"app": names.ProxyName},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "nginx",
							Image: s.config.ProxyImage,
							Ports: []corev1.ContainerPort{
								{ContainerPort: s.config.WorkspacePort, Protocol: corev1.ProtocolTCP},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "proxy-config", MountPath: "/etc/nginx/conf.d"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "proxy-config",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{
										Name: names.ProxyConfigMapName,
									},
								},
							},
						},
					},
				},
			},
		},
	}

	_, err = s.client.Clientset().AppsV1().Deployments(namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if err := k8s.IgnoreAlreadyExists(err); err != nil {
		return fmt.Errorf("failed to create proxy deployment in %s: %w", namespace, err)
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      names.ProxyName,
			Namespace: namespace,
			Labels:    map[string]string{names.ManagedByLabel: names.ManagedByValue},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": names.ProxyName},
			Ports: []corev1.ServicePort{
				{
					Port:       proxyServicePort,
					TargetPort: intstr.FromInt32(s.config.WorkspacePort),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}

	_, err = s.client.Clientset().CoreV1().Services(namespace).Create(ctx, service, metav1.CreateOptions{})
	if err := k8s.IgnoreAlreadyExists(err); err != nil {
		return fmt.Errorf("failed to create proxy service in %s: %w", namespace, err)
	}

	return nil
}
