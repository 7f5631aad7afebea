// Package names holds the cluster-facing naming conventions shared by the
// provisioner, routing synchronizer and health aggregator. These are part of
// the wire contract with the rest of the system and must not drift.
package names

// WorkspaceServicePrefix identifies workspace services by name convention.
const WorkspaceServicePrefix = "workspace-"

// ProxyName is the shared in-namespace reverse proxy (deployment and
// service). Excluded from routing rules by exact match.
const ProxyName = "workspace-proxy"

// ProxyConfigMapName holds the generated reverse-proxy configuration.
const ProxyConfigMapName = "workspace-proxy-config"

// IngressName is the per-namespace routing object.
const IngressName = "workspace-routes"

// Labels applied to every orchestrator-managed resource.
const (
	ManagedByLabel = "app.kubernetes.io/managed-by"
	ManagedByValue = "workspace-orchestrator"
	WorkspaceLabel = "workspace"
)

// Service returns the service name for a workspace.
func Service(workspace string) string {
	return WorkspaceServicePrefix + workspace
}

// StatefulSet returns the workload name for a workspace.
func StatefulSet(workspace string) string {
	return WorkspaceServicePrefix + workspace
}

// PVC returns the storage claim name for a workspace.
func PVC(workspace string) string {
	return WorkspaceServicePrefix + workspace + "-data"
}

// Secret returns the credential secret name for a workspace.
func Secret(workspace string) string {
	return WorkspaceServicePrefix + workspace + "-token"
}

// PathPrefix returns the routing path prefix for a workspace service,
// exactly "/<namespace>/<serviceName>".
func PathPrefix(namespace, serviceName string) string {
	return "/" + namespace + "/" + serviceName
}

// IsWorkspaceService reports whether a service name identifies a workspace
// service eligible for routing (prefix match, proxy excluded).
func IsWorkspaceService(serviceName string) bool {
	if serviceName == ProxyName {
		return false
	}
	return len(serviceName) > len(WorkspaceServicePrefix) &&
		serviceName[:len(WorkspaceServicePrefix)] == WorkspaceServicePrefix
}
