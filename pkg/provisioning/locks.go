package provisioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/gantry/pkg/async"
	"github.com/platinummonkey/gantry/pkg/observability"
)

// Lock is a held scope lock. Release is safe to call more than once.
type Lock interface {
	Release()
}

// LockManager serializes provisioning executions that target the same
// scope. TryAcquire never blocks: it reports false when the lock is held
// elsewhere and the caller falls back to polling the run row.
type LockManager interface {
	TryAcquire(ctx context.Context, key string) (Lock, bool, error)
}

const defaultLease = 30 * time.Second

// unlockScript deletes the lock only if the owner value still matches, so
// a lease that expired and was re-acquired elsewhere is never released by
// the previous holder.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLockManager implements LockManager on Redis SetNX leases. Held locks
// are renewed by a heartbeat at a third of the lease, so a crashed holder's
// lock expires on its own while a live holder keeps it indefinitely.
type RedisLockManager struct {
	client *redis.Client
	lease  time.Duration
	logger *observability.Logger
}

// NewRedisLockManager creates a Redis-backed lock manager. A zero lease
// uses the 30s default.
func NewRedisLockManager(client *redis.Client, lease time.Duration, logger *observability.Logger) *RedisLockManager {
	if lease <= 0 {
		lease = defaultLease
	}
	return &RedisLockManager{client: client, lease: lease, logger: logger}
}

// TryAcquire attempts to take the lock without blocking
func (m *RedisLockManager) TryAcquire(ctx context.Context, key string) (Lock, bool, error) {
	owner := uuid.NewString()
	redisKey := "gantry:lock:" + key

	ok, err := m.client.SetNX(ctx, redisKey, owner, m.lease).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	l := &redisLock{
		manager: m,
		key:     redisKey,
		owner:   owner,
		done:    make(chan struct{}),
	}
	async.SafeGo("lock lease heartbeat", m.logger, l.heartbeat)
	return l, true, nil
}

type redisLock struct {
	manager *RedisLockManager
	key     string
	owner   string
	done    chan struct{}
	once    sync.Once
}

// heartbeat renews the lease until release. Renewal runs against a
// background context: the holder's request context ending must not stop
// renewal before Release runs.
func (l *redisLock) heartbeat() {
	ticker := time.NewTicker(l.manager.lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.manager.lease/3)
			err := l.manager.client.Expire(ctx, l.key, l.manager.lease).Err()
			cancel()
			if err != nil && l.manager.logger != nil {
				l.manager.logger.WithError(err).WithField("lock", l.key).Warnf("failed to renew lock lease")
			}
		}
	}
}

// Release stops the heartbeat and deletes the lock if still owned
func (l *redisLock) Release() {
	l.once.Do(func() {
		close(l.done)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.manager.client, []string{l.key}, l.owner).Err(); err != nil && err != redis.Nil {
			if l.manager.logger != nil {
				l.manager.logger.WithError(err).WithField("lock", l.key).Warnf("failed to release lock")
			}
		}
	})
}

// MemoryLockManager implements LockManager in process for single-node and
// test deployments
type MemoryLockManager struct {
	mu    sync.Mutex
	locks map[string]bool
}

// NewMemoryLockManager creates an in-process lock manager
func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{locks: make(map[string]bool)}
}

// TryAcquire attempts to take the lock without blocking
func (m *MemoryLockManager) TryAcquire(ctx context.Context, key string) (Lock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return &memoryLock{manager: m, key: key}, true, nil
}

type memoryLock struct {
	manager *MemoryLockManager
	key     string
	once    sync.Once
}

func (l *memoryLock) Release() {
	l.once.Do(func() {
		l.manager.mu.Lock()
		defer l.manager.mu.Unlock()
		delete(l.manager.locks, l.key)
	})
}
