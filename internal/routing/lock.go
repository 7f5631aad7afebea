package routing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"workspace-orchestrator-go/internal/redisclient"
)

// Concurrent rebuilds for one namespace are serialized across API replicas
// with a Redis lock so two list-and-publish cycles cannot interleave. The
// lock is an optimization of the "recompute from current truth" model, not a
// correctness requirement: if Redis is down or the lock cannot be taken, the
// sync proceeds unserialized and the last publish wins.

// Owner-token compare-and-delete so a slow holder cannot release a lock that
// already expired and was re-acquired by someone else.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// acquireLock tries to take the per-namespace routing lock. The returned
// release func is always safe to call.
func (s *Synchronizer) acquireLock(ctx context.Context, namespace string) func() {
	if s.redis == nil {
		return func() {}
	}

	key := redisclient.RoutingLockKey(namespace)
	token := uuid.NewString()

	ok, err := s.redis.SetNX(ctx, key, token, s.config.RoutingLockTTL).Result()
	if err != nil {
		s.logger.Warn("routing lock unavailable, proceeding unserialized",
			zap.String("namespace", namespace), zap.Error(err))
		return func() {}
	}
	if !ok {
		// Another replica holds the lock. Wait for it rather than skipping:
		// the caller needs its own add/remove reflected, not the peer's.
		if err := s.waitForLock(ctx, key, token); err != nil {
			s.logger.Warn("routing lock contention, proceeding unserialized",
				zap.String("namespace", namespace), zap.Error(err))
			return func() {}
		}
	}

	return func() {
		if err := s.redis.Eval(context.WithoutCancel(ctx), releaseScript, []string{key}, token).Err(); err != nil && err != redis.Nil {
			s.logger.Warn("failed to release routing lock",
				zap.String("namespace", namespace), zap.Error(err))
		}
	}
}

// waitForLock retries acquisition until the TTL window closes.
func (s *Synchronizer) waitForLock(ctx context.Context, key, token string) error {
	deadline, cancel := context.WithTimeout(ctx, s.config.RoutingLockTTL)
	defer cancel()

	ticker := newLockTicker(s.config.RoutingLockTTL)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.Done():
			return deadline.Err()
		case <-ticker.C:
			ok, err := s.redis.SetNX(ctx, key, token, s.config.RoutingLockTTL).Result()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}

func newLockTicker(ttl time.Duration) *time.Ticker {
	interval := ttl / 20
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	return time.NewTicker(interval)
}
