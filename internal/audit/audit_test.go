package audit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisRecorderSwallowsBackendFailure(t *testing.T) {
	// A client pointing at nothing: every XAdd fails. Recording must still
	// return without an error reaching the caller.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1", // nothing listens here
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	recorder := NewRedisRecorder(client, "workspace:audit", 100, nil)

	assert.NotPanics(t, func() {
		recorder.Record(context.Background(), Event{
			Kind:      EventWorkspaceCreated,
			Namespace: "group-a",
			Subject:   "dev1",
		})
	})
}

func TestNopRecorder(t *testing.T) {
	assert.NotPanics(t, func() {
		NopRecorder{}.Record(context.Background(), Event{Kind: EventExecStarted})
	})
}
