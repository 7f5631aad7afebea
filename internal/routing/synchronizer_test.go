package routing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	ktesting "k8s.io/client-go/testing"

	"workspace-orchestrator-go/internal/config"
	"workspace-orchestrator-go/internal/k8s"
	"workspace-orchestrator-go/internal/names"
)

func testConfig() *config.Config {
	return &config.Config{
		RoutingHostname:    "workspaces.example.com",
		IngressClass:       "nginx",
		ProxyImage:         "nginx:1.25-alpine",
		WorkspacePort:      8080,
		RoutingListRetries: 3,
		RoutingListDelay:   time.Millisecond,
		RoutingLockTTL:     time.Second,
	}
}

func service(namespace, name string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: corev1.ServiceSpec{
			Ports: []corev1.ServicePort{{Port: 8080}},
		},
	}
}

func newTestSynchronizer(clientset *fake.Clientset) *Synchronizer {
	return NewSynchronizer(k8s.NewClientFromClientset(clientset), testConfig(), nil, nil)
}

func TestSyncNamespacePublishesExactPathSet(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		service("group-a", "workspace-dev1"),
		service("group-a", "workspace-dev2"),
		service("group-a", names.ProxyName), // excluded by exact name
		service("group-a", "unrelated-svc"), // excluded by prefix
	)
	s := newTestSynchronizer(clientset)
	ctx := context.Background()

	result, err := s.SyncNamespace(ctx, "group-a")
	require.NoError(t, err)

	assert.Equal(t, []string{"workspace-dev1", "workspace-dev2"}, result.Services)
	assert.Equal(t, []string{"/group-a/workspace-dev1", "/group-a/workspace-dev2"}, result.Paths)

	ing, err := clientset.NetworkingV1().Ingresses("group-a").Get(ctx, names.IngressName, metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, ing.Spec.Rules, 1)
	assert.Equal(t, "workspaces.example.com", ing.Spec.Rules[0].Host)

	var paths []string
	for _, p := range ing.Spec.Rules[0].HTTP.Paths {
		paths = append(paths, p.Path)
		assert.Equal(t, names.ProxyName, p.Backend.Service.Name)
	}
	assert.Equal(t, []string{"/group-a/workspace-dev1", "/group-a/workspace-dev2"}, paths)

	cm, err := clientset.CoreV1().ConfigMaps("group-a").Get(ctx, names.ProxyConfigMapName, metav1.GetOptions{})
	require.NoError(t, err)
	conf := cm.Data[ConfigKey]
	assert.Contains(t, conf, "absolute_redirect off;")
	assert.Contains(t, conf, "port_in_redirect off;")
	assert.Contains(t, conf, "location /group-a/workspace-dev1/ {")
	assert.Contains(t, conf, "proxy_pass http://workspace-dev1.group-a.svc.cluster.local:8080/;")
	assert.Contains(t, conf, "location /group-a/workspace-dev2/ {")
	assert.NotContains(t, conf, names.ProxyName)
	assert.NotContains(t, conf, "unrelated-svc")
}

func TestSyncNamespaceIdempotent(t *testing.T) {
	clientset := fake.NewSimpleClientset(service("group-a", "workspace-dev1"))
	s := newTestSynchronizer(clientset)
	ctx := context.Background()

	first, err := s.SyncNamespace(ctx, "group-a")
	require.NoError(t, err)
	cm1, err := clientset.CoreV1().ConfigMaps("group-a").Get(ctx, names.ProxyConfigMapName, metav1.GetOptions{})
	require.NoError(t, err)

	second, err := s.SyncNamespace(ctx, "group-a")
	require.NoError(t, err)
	cm2, err := clientset.CoreV1().ConfigMaps("group-a").Get(ctx, names.ProxyConfigMapName, metav1.GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Paths, second.Paths)
	assert.Equal(t, cm1.Data, cm2.Data)
}

func TestSyncNamespaceEmptyKeepsValidConfig(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	s := newTestSynchronizer(clientset)
	ctx := context.Background()

	result, err := s.SyncNamespace(ctx, "group-a")
	require.NoError(t, err)
	assert.Empty(t, result.Paths)

	cm, err := clientset.CoreV1().ConfigMaps("group-a").Get(ctx, names.ProxyConfigMapName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Contains(t, cm.Data[ConfigKey], "location / {")
	assert.Contains(t, cm.Data[ConfigKey], "return 404;")

	ing, err := clientset.NetworkingV1().Ingresses("group-a").Get(ctx, names.IngressName, metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, ing.Spec.Rules[0].HTTP.Paths, 1)
	assert.Equal(t, "/group-a", ing.Spec.Rules[0].HTTP.Paths[0].Path)
}

func TestSyncNamespaceRemovalRecomputesWholeConfig(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		service("group-a", "workspace-dev1"),
		service("group-a", "workspace-dev2"),
	)
	s := newTestSynchronizer(clientset)
	ctx := context.Background()

	_, err := s.SyncNamespace(ctx, "group-a")
	require.NoError(t, err)

	require.NoError(t, clientset.CoreV1().Services("group-a").Delete(ctx, "workspace-dev1", metav1.DeleteOptions{}))

	result, err := s.SyncNamespaceExpecting(ctx, "group-a", Expectation{Absent: "workspace-dev1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/group-a/workspace-dev2"}, result.Paths)

	cm, err := clientset.CoreV1().ConfigMaps("group-a").Get(ctx, names.ProxyConfigMapName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotContains(t, cm.Data[ConfigKey], "workspace-dev1")
}

func TestSyncNamespaceVisibilityLagRetries(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	s := newTestSynchronizer(clientset)

	listCalls := 0
	clientset.PrependReactor("list", "services", func(action ktesting.Action) (bool, runtime.Object, error) {
		listCalls++
		return false, nil, nil
	})

	// Expected service never shows up: proceed with the visible (empty) set
	// after the retry bound instead of failing.
	result, err := s.SyncNamespaceExpecting(context.Background(), "group-a", Expectation{Present: "workspace-dev1"})
	require.NoError(t, err)
	assert.Empty(t, result.Services)
	assert.Equal(t, 3, listCalls)
}

func TestSyncNamespaceConvergesEarly(t *testing.T) {
	clientset := fake.NewSimpleClientset(service("group-a", "workspace-dev1"))
	s := newTestSynchronizer(clientset)

	listCalls := 0
	clientset.PrependReactor("list", "services", func(action ktesting.Action) (bool, runtime.Object, error) {
		listCalls++
		return false, nil, nil
	})

	_, err := s.SyncNamespaceExpecting(context.Background(), "group-a", Expectation{Present: "workspace-dev1"})
	require.NoError(t, err)
	assert.Equal(t, 1, listCalls)
}

func TestSyncNamespaceProxyRestartFailureIsNonFatal(t *testing.T) {
	// No proxy deployment exists, so the rollout restart fails; the sync must
	// still succeed.
	clientset := fake.NewSimpleClientset(service("group-a", "workspace-dev1"))
	s := newTestSynchronizer(clientset)

	_, err := s.SyncNamespace(context.Background(), "group-a")
	assert.NoError(t, err)
}

func TestSyncNamespaceRestartsProxy(t *testing.T) {
	clientset := fake.NewSimpleClientset(service("group-a", "workspace-dev1"))
	s := newTestSynchronizer(clientset)
	ctx := context.Background()

	require.NoError(t, s.EnsureProxy(ctx, "group-a"))

	_, err := s.SyncNamespace(ctx, "group-a")
	require.NoError(t, err)

	proxy, err := clientset.AppsV1().Deployments("group-a").Get(ctx, names.ProxyName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, proxy.Spec.Template.Annotations["kubectl.kubernetes.io/restartedAt"])
}

func TestEnsureProxyReplayPreservesPublishedRoutes(t *testing.T) {
	clientset := fake.NewSimpleClientset(service("group-a", "workspace-dev1"))
	s := newTestSynchronizer(clientset)
	ctx := context.Background()

	require.NoError(t, s.EnsureProxy(ctx, "group-a"))
	_, err := s.SyncNamespace(ctx, "group-a")
	require.NoError(t, err)

	// A replayed namespace create runs EnsureProxy again; the routes the sync
	// published must survive it.
	require.NoError(t, s.EnsureProxy(ctx, "group-a"))

	cm, err := clientset.CoreV1().ConfigMaps("group-a").Get(ctx, names.ProxyConfigMapName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Contains(t, cm.Data[ConfigKey], "location /group-a/workspace-dev1/ {")
	assert.Contains(t, cm.Data[ConfigKey], "proxy_pass http://workspace-dev1.group-a.svc.cluster.local:8080/;")
}

func TestEnsureProxyIdempotent(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	s := newTestSynchronizer(clientset)
	ctx := context.Background()

	require.NoError(t, s.EnsureProxy(ctx, "group-a"))
	require.NoError(t, s.EnsureProxy(ctx, "group-a"))

	proxy, err := clientset.AppsV1().Deployments("group-a").Get(ctx, names.ProxyName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "nginx:1.25-alpine", proxy.Spec.Template.Spec.Containers[0].Image)

	svc, err := clientset.CoreV1().Services("group-a").Get(ctx, names.ProxyName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(80), svc.Spec.Ports[0].Port)
}

func TestBuildProxyConfigOrdering(t *testing.T) {
	conf := buildProxyConfig("ns1", []string{"workspace-a", "workspace-b"}, 8080)

	// Exact-prefix redirect precedes the proxy block for each service.
	aRedirect := strings.Index(conf, "location = /ns1/workspace-a {")
	aProxy := strings.Index(conf, "location /ns1/workspace-a/ {")
	catchAll := strings.Index(conf, "location / {")
	require.True(t, aRedirect >= 0 && aProxy >= 0 && catchAll >= 0)
	assert.Less(t, aRedirect, aProxy)
	assert.Less(t, aProxy, catchAll)
}
