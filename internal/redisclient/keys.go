// Package redisclient provides Redis key pattern definitions for the
// workspace orchestrator.
package redisclient

import "fmt"

// RedisPrefix is the prefix for all Redis keys written by the orchestrator
const RedisPrefix = "workspace:"

// RoutingLockKey returns the key serializing routing rebuilds for a namespace
func RoutingLockKey(namespace string) string {
	return fmt.Sprintf("%srouting:lock:%s", RedisPrefix, namespace)
}

// AuditStreamKey returns the stream key audit events are appended to
func AuditStreamKey(stream string) string {
	if stream == "" {
		return RedisPrefix + "audit"
	}
	return stream
}
