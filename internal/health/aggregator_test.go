package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	ktesting "k8s.io/client-go/testing"

	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/names"
)

func statefulSet(namespace, workspace string, replicas, ready int32) *appsv1.StatefulSet {
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: names.StatefulSet(workspace), Namespace: namespace},
		Spec:       appsv1.StatefulSetSpec{Replicas: &replicas},
		Status:     appsv1.StatefulSetStatus{ReadyReplicas: ready},
	}
}

func workspacePod(namespace, workspace, podName string, phase corev1.PodPhase, ready bool) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: namespace,
			Labels:    map[string]string{names.WorkspaceLabel: workspace},
		},
		Status: corev1.PodStatus{
			Phase: phase,
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "workspace", Ready: ready},
			},
		},
	}
}

func findVerdict(t *testing.T, statuses []models.ComponentHealthStatus, typ string) models.ComponentHealthStatus {
	t.Helper()
	for _, s := range statuses {
		if s.Type == typ {
			return s
		}
	}
	t.Fatalf("no verdict of type %s in %v", typ, statuses)
	return models.ComponentHealthStatus{}
}

func TestStoppedWorkspaceIsHealthy(t *testing.T) {
	clientset := fake.NewSimpleClientset(statefulSet("group-a", "dev1", 0, 0))
	a := NewAggregator(k8s.NewClientFromClientset(clientset), nil)

	statuses := a.CheckWorkspace(context.Background(), "group-a", "dev1")

	sts := findVerdict(t, statuses, TypeStatefulSet)
	assert.True(t, sts.Healthy)
	assert.Contains(t, sts.Reason, "stopped by design")

	pods := findVerdict(t, statuses, TypePod)
	assert.True(t, pods.Healthy)
	assert.Equal(t, "NoPods", pods.Status)
}

func TestStatefulSetNotReady(t *testing.T) {
	clientset := fake.NewSimpleClientset(statefulSet("group-a", "dev1", 1, 0))
	a := NewAggregator(k8s.NewClientFromClientset(clientset), nil)

	statuses := a.CheckWorkspace(context.Background(), "group-a", "dev1")

	sts := findVerdict(t, statuses, TypeStatefulSet)
	assert.False(t, sts.Healthy)
	assert.Equal(t, "NotReady", sts.Status)
	assert.NotEmpty(t, sts.Reason)
}

func TestStatefulSetRunning(t *testing.T) {
	clientset := fake.NewSimpleClientset(statefulSet("group-a", "dev1", 1, 1))
	a := NewAggregator(k8s.NewClientFromClientset(clientset), nil)

	statuses := a.CheckWorkspace(context.Background(), "group-a", "dev1")

	sts := findVerdict(t, statuses, TypeStatefulSet)
	assert.True(t, sts.Healthy)
	assert.Equal(t, "Running", sts.Status)
}

func TestMissingResourcesAreObservationsNotErrors(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	a := NewAggregator(k8s.NewClientFromClientset(clientset), nil)

	statuses := a.CheckWorkspace(context.Background(), "group-a", "dev1")
	require.Len(t, statuses, 4) // sts, svc, pvc, pod placeholder

	for _, s := range statuses {
		if s.Type == TypePod {
			// No pods is healthy, not NotFound.
			assert.True(t, s.Healthy)
			continue
		}
		assert.False(t, s.Healthy, "type %s", s.Type)
		assert.Equal(t, StatusNotFound, s.Status, "type %s", s.Type)
	}
}

func TestServiceVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		spec    corev1.ServiceSpec
		healthy bool
		status  string
	}{
		{
			name: "healthy",
			spec: corev1.ServiceSpec{
				ClusterIP: "10.0.0.5",
				Ports:     []corev1.ServicePort{{Port: 8080}},
			},
			healthy: true,
			status:  "Active",
		},
		{
			name:    "no cluster ip",
			spec:    corev1.ServiceSpec{Ports: []corev1.ServicePort{{Port: 8080}}},
			healthy: false,
			status:  "NoClusterIP",
		},
		{
			name:    "headless",
			spec:    corev1.ServiceSpec{ClusterIP: corev1.ClusterIPNone, Ports: []corev1.ServicePort{{Port: 8080}}},
			healthy: false,
			status:  "NoClusterIP",
		},
		{
			name:    "no ports",
			spec:    corev1.ServiceSpec{ClusterIP: "10.0.0.5"},
			healthy: false,
			status:  "NoPorts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientset := fake.NewSimpleClientset(&corev1.Service{
				ObjectMeta: metav1.ObjectMeta{Name: names.Service("dev1"), Namespace: "group-a"},
				Spec:       tt.spec,
			})
			a := NewAggregator(k8s.NewClientFromClientset(clientset), nil)

			svc := findVerdict(t, a.CheckWorkspace(context.Background(), "group-a", "dev1"), TypeService)
			assert.Equal(t, tt.healthy, svc.Healthy)
			assert.Equal(t, tt.status, svc.Status)
		})
	}
}

func TestPVCVerdicts(t *testing.T) {
	tests := []struct {
		phase   corev1.PersistentVolumeClaimPhase
		healthy bool
	}{
		{corev1.ClaimBound, true},
		{corev1.ClaimPending, false},
		{corev1.ClaimLost, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			clientset := fake.NewSimpleClientset(&corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: names.PVC("dev1"), Namespace: "group-a"},
				Status:     corev1.PersistentVolumeClaimStatus{Phase: tt.phase},
			})
			a := NewAggregator(k8s.NewClientFromClientset(clientset), nil)

			pvc := findVerdict(t, a.CheckWorkspace(context.Background(), "group-a", "dev1"), TypePVC)
			assert.Equal(t, tt.healthy, pvc.Healthy)
			assert.Equal(t, string(tt.phase), pvc.Status)
		})
	}
}

func TestPodVerdicts(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		workspacePod("group-a", "dev1", "workspace-dev1-0", corev1.PodRunning, true),
		workspacePod("group-a", "dev2", "workspace-dev2-0", corev1.PodRunning, false),
		workspacePod("group-a", "dev3", "workspace-dev3-0", corev1.PodPending, false),
	)
	a := NewAggregator(k8s.NewClientFromClientset(clientset), nil)
	ctx := context.Background()

	ready := findVerdict(t, a.CheckWorkspace(ctx, "group-a", "dev1"), TypePod)
	assert.True(t, ready.Healthy)

	notReady := findVerdict(t, a.CheckWorkspace(ctx, "group-a", "dev2"), TypePod)
	assert.False(t, notReady.Healthy)
	assert.Contains(t, notReady.Reason, "workspace")

	pending := findVerdict(t, a.CheckWorkspace(ctx, "group-a", "dev3"), TypePod)
	assert.False(t, pending.Healthy)
	assert.Equal(t, string(corev1.PodPending), pending.Status)
}

func TestProbeFailureDegradesToUnknown(t *testing.T) {
	clientset := fake.NewSimpleClientset(statefulSet("group-a", "dev1", 1, 1))
	clientset.PrependReactor("get", "services", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(
			schema.GroupResource{Resource: "services"}, "workspace-dev1", nil)
	})
	a := NewAggregator(k8s.NewClientFromClientset(clientset), nil)

	statuses := a.CheckWorkspace(context.Background(), "group-a", "dev1")

	// The failing probe degrades, the others still report.
	svc := findVerdict(t, statuses, TypeService)
	assert.False(t, svc.Healthy)
	assert.Equal(t, StatusUnknown, svc.Status)
	assert.NotEmpty(t, svc.Reason)

	sts := findVerdict(t, statuses, TypeStatefulSet)
	assert.True(t, sts.Healthy)
}
