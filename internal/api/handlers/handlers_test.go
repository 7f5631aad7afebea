package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"workspace-orchestrator-go/internal/config"
	"workspace-orchestrator-go/internal/models"
	"workspace-orchestrator-go/internal/redisclient"
	"workspace-orchestrator-go/internal/routing"
)

// fakeProvisioner implements NamespaceProvisioner and WorkspaceProvisioner.
type fakeProvisioner struct {
	namespaces []string
	quotas     map[string]models.QuotaSpec
	workspaces map[string]models.WorkspaceSpec
	deleted    []string
	scaled     map[string]int32

	err      error
	scaleErr error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{
		quotas:     map[string]models.QuotaSpec{},
		workspaces: map[string]models.WorkspaceSpec{},
		scaled:     map[string]int32{},
	}
}

func (f *fakeProvisioner) CreateNamespace(ctx context.Context, name string, labels map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.namespaces = append(f.namespaces, name)
	return nil
}

func (f *fakeProvisioner) DeleteNamespace(ctx context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeProvisioner) CreateResourceQuota(ctx context.Context, namespace string, spec models.QuotaSpec) error {
	if f.err != nil {
		return f.err
	}
	f.quotas[namespace] = spec
	return nil
}

func (f *fakeProvisioner) CreateWorkspaceResources(ctx context.Context, namespace string, spec models.WorkspaceSpec) error {
	if f.err != nil {
		return f.err
	}
	f.workspaces[namespace+"/"+spec.Name] = spec
	return nil
}

func (f *fakeProvisioner) DeleteWorkspaceResources(ctx context.Context, namespace, name string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, namespace+"/"+name)
	return nil
}

func (f *fakeProvisioner) ScaleWorkspace(ctx context.Context, namespace, name string, replicas int32) error {
	if f.scaleErr != nil {
		return f.scaleErr
	}
	f.scaled[namespace+"/"+name] = replicas
	return nil
}

// fakeSynchronizer implements RoutingSynchronizer, NamespaceSyncer and
// ProxyEnsurer.
type fakeSynchronizer struct {
	expectations []routing.Expectation
	synced       []string
	proxied      []string
	err          error
}

func (f *fakeSynchronizer) result(namespace string) *models.SyncResult {
	return &models.SyncResult{
		Namespace: namespace,
		Services:  []string{"workspace-dev1"},
		Paths:     []string{"/" + namespace + "/workspace-dev1"},
		SyncedAt:  time.Now(),
	}
}

func (f *fakeSynchronizer) SyncNamespaceExpecting(ctx context.Context, namespace string, exp routing.Expectation) (*models.SyncResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.expectations = append(f.expectations, exp)
	return f.result(namespace), nil
}

func (f *fakeSynchronizer) SyncNamespace(ctx context.Context, namespace string) (*models.SyncResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.synced = append(f.synced, namespace)
	return f.result(namespace), nil
}

func (f *fakeSynchronizer) EnsureProxy(ctx context.Context, namespace string) error {
	if f.err != nil {
		return f.err
	}
	f.proxied = append(f.proxied, namespace)
	return nil
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateNamespaceWithQuota(t *testing.T) {
	prov := newFakeProvisioner()
	sync := &fakeSynchronizer{}
	h := NewNamespaceHandler(prov, sync, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/namespaces", h.HandleCreate)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces", models.CreateNamespaceRequest{
		Name:  "group-a",
		Quota: &models.QuotaSpec{CPU: "8", Memory: "16Gi", Storage: "100Gi", Pods: 20},
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"group-a"}, prov.namespaces)
	assert.Equal(t, int64(20), prov.quotas["group-a"].Pods)
	assert.Equal(t, []string{"group-a"}, sync.proxied)
}

func TestCreateNamespaceValidation(t *testing.T) {
	h := NewNamespaceHandler(newFakeProvisioner(), &fakeSynchronizer{}, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/namespaces", h.HandleCreate)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces", models.CreateNamespaceRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/namespaces", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateNamespaceProvisionerFailure(t *testing.T) {
	prov := newFakeProvisioner()
	prov.err = errors.New("api server unavailable")
	h := NewNamespaceHandler(prov, &fakeSynchronizer{}, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/namespaces", h.HandleCreate)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces", models.CreateNamespaceRequest{Name: "group-a"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeleteNamespace(t *testing.T) {
	prov := newFakeProvisioner()
	h := NewNamespaceHandler(prov, &fakeSynchronizer{}, nil)
	r := chi.NewRouter()
	r.Delete("/api/v1/namespaces/{namespace}", h.HandleDelete)

	rec := doJSON(t, r, http.MethodDelete, "/api/v1/namespaces/group-a", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"group-a"}, prov.deleted)
}

func TestCreateWorkspaceSyncsWithPresenceHint(t *testing.T) {
	prov := newFakeProvisioner()
	sync := &fakeSynchronizer{}
	h := NewWorkspaceHandler(prov, sync, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/namespaces/{namespace}/workspaces", h.HandleCreate)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces/group-a/workspaces", models.WorkspaceSpec{
		Name:  "dev1",
		Image: "codercom/code-server:4.20.0",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, sync.expectations, 1)
	assert.Equal(t, "workspace-dev1", sync.expectations[0].Present)
	assert.Empty(t, sync.expectations[0].Absent)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "/group-a/workspace-dev1", resp["path"])
}

func TestCreateWorkspaceValidation(t *testing.T) {
	h := NewWorkspaceHandler(newFakeProvisioner(), &fakeSynchronizer{}, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/namespaces/{namespace}/workspaces", h.HandleCreate)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces/group-a/workspaces", models.WorkspaceSpec{Image: "img"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/v1/namespaces/group-a/workspaces", models.WorkspaceSpec{Name: "dev1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWorkspaceSyncFailureIsSurfaced(t *testing.T) {
	prov := newFakeProvisioner()
	sync := &fakeSynchronizer{err: errors.New("routing lock contention")}
	h := NewWorkspaceHandler(prov, sync, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/namespaces/{namespace}/workspaces", h.HandleCreate)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces/group-a/workspaces", models.WorkspaceSpec{
		Name:  "dev1",
		Image: "img",
	})

	// Resources were created even though the sync failed.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, prov.workspaces, "group-a/dev1")
}

func TestDeleteWorkspaceSyncsWithAbsenceHint(t *testing.T) {
	prov := newFakeProvisioner()
	sync := &fakeSynchronizer{}
	h := NewWorkspaceHandler(prov, sync, nil)
	r := chi.NewRouter()
	r.Delete("/api/v1/namespaces/{namespace}/workspaces/{name}", h.HandleDelete)

	rec := doJSON(t, r, http.MethodDelete, "/api/v1/namespaces/group-a/workspaces/dev1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"group-a/dev1"}, prov.deleted)
	require.Len(t, sync.expectations, 1)
	assert.Equal(t, "workspace-dev1", sync.expectations[0].Absent)
}

func TestScaleWorkspace(t *testing.T) {
	prov := newFakeProvisioner()
	h := NewWorkspaceHandler(prov, &fakeSynchronizer{}, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/namespaces/{namespace}/workspaces/{name}/scale", h.HandleScale)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces/group-a/workspaces/dev1/scale", models.ScaleRequest{Replicas: 1})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), prov.scaled["group-a/dev1"])
}

func TestScaleWorkspaceRejectsOutOfRangeReplicas(t *testing.T) {
	h := NewWorkspaceHandler(newFakeProvisioner(), &fakeSynchronizer{}, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/namespaces/{namespace}/workspaces/{name}/scale", h.HandleScale)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces/group-a/workspaces/dev1/scale", models.ScaleRequest{Replicas: 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScaleWorkspaceMissingIs404(t *testing.T) {
	prov := newFakeProvisioner()
	prov.scaleErr = apierrors.NewNotFound(schema.GroupResource{Resource: "statefulsets"}, "workspace-dev1")
	h := NewWorkspaceHandler(prov, &fakeSynchronizer{}, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/namespaces/{namespace}/workspaces/{name}/scale", h.HandleScale)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces/group-a/workspaces/dev1/scale", models.ScaleRequest{Replicas: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutingSync(t *testing.T) {
	sync := &fakeSynchronizer{}
	h := NewRoutingHandler(sync, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/namespaces/{namespace}/routing/sync", h.HandleSync)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/namespaces/group-a/routing/sync", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"group-a"}, sync.synced)

	var result models.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "group-a", result.Namespace)
}

// fakeChecker implements WorkspaceChecker.
type fakeChecker struct {
	components []models.ComponentHealthStatus
}

func (f *fakeChecker) CheckWorkspace(ctx context.Context, namespace, name string) []models.ComponentHealthStatus {
	return f.components
}

func TestWorkspaceHealthRollup(t *testing.T) {
	checker := &fakeChecker{components: []models.ComponentHealthStatus{
		{Name: "workspace-dev1", Type: "statefulset", Healthy: true},
		{Name: "workspace-dev1", Type: "service", Healthy: false, Status: "NoClusterIP"},
	}}
	h := NewWorkspaceHealthHandler(checker, nil)
	r := chi.NewRouter()
	r.Get("/api/v1/namespaces/{namespace}/workspaces/{name}/health", h.Handle)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/namespaces/group-a/workspaces/dev1/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Healthy    bool                           `json:"healthy"`
		Components []models.ComponentHealthStatus `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Healthy)
	assert.Len(t, resp.Components, 2)
}

// fakePlanner implements CapacityReporter.
type fakePlanner struct {
	report *models.ClusterCapacity
	err    error
}

func (f *fakePlanner) GetClusterCapacity(ctx context.Context) (*models.ClusterCapacity, error) {
	return f.report, f.err
}

func TestCapacityHandler(t *testing.T) {
	planner := &fakePlanner{report: &models.ClusterCapacity{
		NodeCount:                  2,
		AvailableWorkspaceCapacity: 5,
	}}
	h := NewCapacityHandler(planner, nil)

	rec := doJSON(t, http.HandlerFunc(h.Handle), http.MethodGet, "/api/v1/cluster/capacity", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var report models.ClusterCapacity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 5, report.AvailableWorkspaceCapacity)
}

func TestReadyStaysUpWithoutRedis(t *testing.T) {
	// Nothing listens here: every ping fails. Cluster-backed operations work
	// without Redis, so the instance must stay ready and report degradation.
	redis, err := redisclient.NewClient(&config.Config{RedisURL: "redis://127.0.0.1:1/0"})
	require.NoError(t, err)
	defer redis.Close()

	h := NewHealthHandler(redis, nil)
	rec := doJSON(t, http.HandlerFunc(h.HandleReady), http.MethodGet, "/api/v1/ready", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp["status"])
	assert.Equal(t, "degraded", resp["redis"])
}

func TestCapacityHandlerFailure(t *testing.T) {
	h := NewCapacityHandler(&fakePlanner{err: errors.New("node list failed")}, nil)
	rec := doJSON(t, http.HandlerFunc(h.Handle), http.MethodGet, "/api/v1/cluster/capacity", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
