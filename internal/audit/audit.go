// Package audit records orchestrator events (exec session lifecycle,
// provisioning milestones) to an external trail. Recording is best-effort by
// contract: failures are logged and never propagated to the primary
// operation.
package audit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/redisclient"
)

// Event kinds recorded by the orchestrator.
const (
	EventExecStarted      = "exec_session_started"
	EventExecEnded        = "exec_session_ended"
	EventExecFailed       = "exec_session_failed"
	EventNamespaceCreated = "namespace_created"
	EventNamespaceDeleted = "namespace_deleted"
	EventWorkspaceCreated = "workspace_created"
	EventWorkspaceDeleted = "workspace_deleted"
	EventWorkspaceScaled  = "workspace_scaled"
)

// Event is one audit trail entry.
type Event struct {
	Kind      string    `json:"kind"`
	Namespace string    `json:"namespace,omitempty"`
	Subject   string    `json:"subject,omitempty"` // workspace or pod name
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Recorder appends events to the audit trail. Implementations must never
// block the caller on failure.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// RedisRecorder appends events to a capped Redis stream consumed by the
// management API's audit store.
type RedisRecorder struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisRecorder creates a recorder writing to the given stream, trimmed
// approximately to maxLen entries.
func NewRedisRecorder(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRecorder{
		client: client,
		stream: redisclient.AuditStreamKey(stream),
		maxLen: maxLen,
		logger: logger,
	}
}

// Record appends one event. Errors are logged, never returned.
func (r *RedisRecorder) Record(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	values := map[string]interface{}{
		"kind": event.Kind,
		"time": event.Time.Format(time.RFC3339Nano),
	}
	if event.Namespace != "" {
		values["namespace"] = event.Namespace
	}
	if event.Subject != "" {
		values["subject"] = event.Subject
	}
	if event.Detail != "" {
		values["detail"] = event.Detail
	}
	if event.Error != "" {
		values["error"] = event.Error
	}

	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		r.logger.Warn("failed to record audit event",
			zap.String("kind", event.Kind),
			zap.String("namespace", event.Namespace),
			zap.Error(err))
	}
}

// NopRecorder discards all events. Used when Redis is not configured and in
// tests.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event Event) {}
