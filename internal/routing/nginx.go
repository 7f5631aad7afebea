package routing

import (
	"fmt"
	"strings"

	"workspace-orchestrator-go/internal/names"
)

// ConfigKey is the ConfigMap key the proxy mounts as its server config.
const ConfigKey = "default.conf"

// buildProxyConfig regenerates the reverse-proxy configuration from scratch
// for the given workspace services. The artifact is always a full rewrite,
// never a patch. absolute_redirect and port_in_redirect stay off so backends
// issuing their own redirects cannot corrupt path-prefixed URLs.
func buildProxyConfig(namespace string, services []string, port int32) string {
	var b strings.Builder

	b.WriteString("# Generated by workspace-orchestrator. Do not edit.\n")
	b.WriteString("server {\n")
	fmt.Fprintf(&b, "    listen %d;\n", port)
	b.WriteString("    absolute_redirect off;\n")
	b.WriteString("    port_in_redirect off;\n\n")

	for _, svc := range services {
		prefix := names.PathPrefix(namespace, svc)
		upstream := fmt.Sprintf("http://%s.%s.svc.cluster.local:%d/", svc, namespace, port)

		// Bare prefix redirects into the slash-terminated form; relative
		// because absolute_redirect is off.
		fmt.Fprintf(&b, "    location = %s {\n", prefix)
		fmt.Fprintf(&b, "        return 302 %s/;\n", prefix)
		b.WriteString("    }\n")

		fmt.Fprintf(&b, "    location %s/ {\n", prefix)
		fmt.Fprintf(&b, "        proxy_pass %s;\n", upstream)
		b.WriteString("        proxy_http_version 1.1;\n")
		b.WriteString("        proxy_set_header Host $host;\n")
		b.WriteString("        proxy_set_header X-Real-IP $remote_addr;\n")
		b.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
		b.WriteString("        proxy_set_header Upgrade $http_upgrade;\n")
		b.WriteString("        proxy_set_header Connection \"upgrade\";\n")
		b.WriteString("        proxy_read_timeout 3600s;\n")
		b.WriteString("    }\n")
	}

	// Catch-all keeps the configuration valid when no workspaces exist.
	b.WriteString("    location / {\n")
	b.WriteString("        return 404;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")

	return b.String()
}
