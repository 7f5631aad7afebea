// Package health probes the four resource kinds backing one workspace and
// reduces each to an independent verdict. Absence of a resource is a valid
// observation (status NotFound), not a probe failure; probe failures degrade
// to status Unknown. No rollup happens here: the caller decides how to fold
// the flat list into a workspace-level status.
package health

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/names"
)

const (
	TypeStatefulSet = "statefulset"
	TypeService     = "service"
	TypePVC         = "pvc"
	TypePod         = "pod"

	StatusNotFound = "NotFound"
	StatusUnknown  = "Unknown"
)

// Aggregator produces per-resource health verdicts for workspaces.
// State-independent and pull-only.
type Aggregator struct {
	client *k8s.Client
	logger *zap.Logger
}

// NewAggregator creates a new health aggregator.
func NewAggregator(client *k8s.Client, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		client: client,
		logger: logger,
	}
}

// CheckWorkspace probes the statefulset, service, storage claim and pods of
// one workspace. Each probe is independent; one failing never hides the
// others.
func (a *Aggregator) CheckWorkspace(ctx context.Context, namespace, name string) []models.ComponentHealthStatus {
	statuses := []models.ComponentHealthStatus{
		a.checkStatefulSet(ctx, namespace, name),
		a.checkService(ctx, namespace, name),
		a.checkPVC(ctx, namespace, name),
	}
	statuses = append(statuses, a.checkPods(ctx, namespace, name)...)
	return statuses
}

func (a *Aggregator) checkStatefulSet(ctx context.Context, namespace, name string) models.ComponentHealthStatus {
	stsName := names.StatefulSet(name)
	verdict := models.ComponentHealthStatus{Name: stsName, Type: TypeStatefulSet}

	sts, err := a.client.Clientset().AppsV1().StatefulSets(namespace).Get(ctx, stsName, metav1.GetOptions{})
	if err != nil {
		return a.classifyProbeError(verdict, err)
	}

	var replicas int32
	if sts.Spec.Replicas != nil {
		replicas = *sts.Spec.Replicas
	}
	ready := sts.Status.ReadyReplicas

	verdict.Details = map[string]string{
		"replicas":       strconv.Itoa(int(replicas)),
		"ready_replicas": strconv.Itoa(int(ready)),
	}

	switch {
	case replicas == 0:
		verdict.Healthy = true
		verdict.Status = "Stopped"
		verdict.Reason = "workspace stopped by design"
	case ready < replicas:
		verdict.Healthy = false
		verdict.Status = "NotReady"
		verdict.Reason = statefulSetCondition(sts)
	default:
		verdict.Healthy = true
		verdict.Status = "Running"
	}
	return verdict
}

// statefulSetCondition picks the most specific available condition message.
func statefulSetCondition(sts *appsv1.StatefulSet) string {
	for i := range sts.Status.Conditions {
		c := sts.Status.Conditions[i]
		if c.Status != corev1.ConditionTrue && c.Message != "" {
			return c.Message
		}
	}
	for i := range sts.Status.Conditions {
		if sts.Status.Conditions[i].Message != "" {
			return sts.Status.Conditions[i].Message
		}
	}
	return fmt.Sprintf("%d of %d replicas ready", sts.Status.ReadyReplicas, *sts.Spec.Replicas)
}

func (a *Aggregator) checkService(ctx context.Context, namespace, name string) models.ComponentHealthStatus {
	svcName := names.Service(name)
	verdict := models.ComponentHealthStatus{Name: svcName, Type: TypeService}

	svc, err := a.client.Clientset().CoreV1().Services(namespace).Get(ctx, svcName, metav1.GetOptions{})
	if err != nil {
		return a.classifyProbeError(verdict, err)
	}

	verdict.Details = map[string]string{
		"cluster_ip": svc.Spec.ClusterIP,
		"ports":      strconv.Itoa(len(svc.Spec.Ports)),
	}

	switch {
	case svc.Spec.ClusterIP == "" || svc.Spec.ClusterIP == corev1.ClusterIPNone:
		verdict.Healthy = false
		verdict.Status = "NoClusterIP"
		verdict.Reason = "no cluster-internal address assigned"
	case len(svc.Spec.Ports) == 0:
		verdict.Healthy = false
		verdict.Status = "NoPorts"
		verdict.Reason = "no ports configured"
	default:
		verdict.Healthy = true
		verdict.Status = "Active"
	}
	return verdict
}

func (a *Aggregator) checkPVC(ctx context.Context, namespace, name string) models.ComponentHealthStatus {
	pvcName := names.PVC(name)
	verdict := models.ComponentHealthStatus{Name: pvcName, Type: TypePVC}

	pvc, err := a.client.Clientset().CoreV1().PersistentVolumeClaims(namespace).Get(ctx, pvcName, metav1.GetOptions{})
	if err != nil {
		return a.classifyProbeError(verdict, err)
	}

	verdict.Status = string(pvc.Status.Phase)
	verdict.Details = map[string]string{"phase": string(pvc.Status.Phase)}

	switch pvc.Status.Phase {
	case corev1.ClaimBound:
		verdict.Healthy = true
	case corev1.ClaimPending:
		verdict.Healthy = false
		verdict.Reason = "storage claim waiting for volume binding"
	case corev1.ClaimLost:
		verdict.Healthy = false
		verdict.Reason = "underlying volume lost"
	default:
		verdict.Healthy = false
		verdict.Reason = fmt.Sprintf("unexpected claim phase %q", pvc.Status.Phase)
	}
	return verdict
}

func (a *Aggregator) checkPods(ctx context.Context, namespace, name string) []models.ComponentHealthStatus {
	selector := names.WorkspaceLabel + "=" + name

	pods, err := a.client.Clientset().CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		verdict := models.ComponentHealthStatus{Name: names.StatefulSet(name), Type: TypePod}
		return []models.ComponentHealthStatus{a.classifyProbeError(verdict, err)}
	}

	if len(pods.Items) == 0 {
		// A stopped workspace has no pods; that is the expected shape.
		return []models.ComponentHealthStatus{{
			Name:    names.StatefulSet(name),
			Type:    TypePod,
			Healthy: true,
			Status:  "NoPods",
			Reason:  "workspace stopped, no pods expected",
		}}
	}

	statuses := make([]models.ComponentHealthStatus, 0, len(pods.Items))
	for i := range pods.Items {
		statuses = append(statuses, classifyPod(&pods.Items[i]))
	}
	return statuses
}

func classifyPod(pod *corev1.Pod) models.ComponentHealthStatus {
	verdict := models.ComponentHealthStatus{
		Name:   pod.Name,
		Type:   TypePod,
		Status: string(pod.Status.Phase),
		Details: map[string]string{
			"phase": string(pod.Status.Phase),
			"node":  pod.Spec.NodeName,
		},
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		for i := range pod.Status.ContainerStatuses {
			cs := pod.Status.ContainerStatuses[i]
			if !cs.Ready {
				verdict.Healthy = false
				verdict.Reason = containerReason(cs)
				return verdict
			}
		}
		verdict.Healthy = true
	case corev1.PodSucceeded:
		verdict.Healthy = true
	case corev1.PodPending:
		verdict.Healthy = false
		verdict.Reason = pendingReason(pod)
	default:
		verdict.Healthy = false
		verdict.Reason = pod.Status.Reason
		if verdict.Reason == "" {
			verdict.Reason = fmt.Sprintf("pod in phase %q", pod.Status.Phase)
		}
	}
	return verdict
}

func containerReason(cs corev1.ContainerStatus) string {
	if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
		if cs.State.Waiting.Message != "" {
			return fmt.Sprintf("container %s: %s: %s", cs.Name, cs.State.Waiting.Reason, cs.State.Waiting.Message)
		}
		return fmt.Sprintf("container %s: %s", cs.Name, cs.State.Waiting.Reason)
	}
	if cs.State.Terminated != nil && cs.State.Terminated.Reason != "" {
		return fmt.Sprintf("container %s terminated: %s", cs.Name, cs.State.Terminated.Reason)
	}
	return fmt.Sprintf("container %s not ready", cs.Name)
}

func pendingReason(pod *corev1.Pod) string {
	for i := range pod.Status.ContainerStatuses {
		cs := pod.Status.ContainerStatuses[i]
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return containerReason(cs)
		}
	}
	for i := range pod.Status.Conditions {
		c := pod.Status.Conditions[i]
		if c.Status != corev1.ConditionTrue && c.Message != "" {
			return c.Message
		}
	}
	return "pod pending"
}

// classifyProbeError maps a cluster API error onto the verdict taxonomy:
// not-found is an observation, anything else is Unknown.
func (a *Aggregator) classifyProbeError(verdict models.ComponentHealthStatus, err error) models.ComponentHealthStatus {
	verdict.Healthy = false
	if k8s.IsNotFound(err) {
		verdict.Status = StatusNotFound
		verdict.Reason = fmt.Sprintf("%s %s not found", verdict.Type, verdict.Name)
		return verdict
	}

	a.logger.Warn("health probe failed",
		zap.String("resource", verdict.Name),
		zap.String("type", verdict.Type),
		zap.Error(err))
	verdict.Status = StatusUnknown
	verdict.Reason = err.Error()
	return verdict
}
