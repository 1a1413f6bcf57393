package provisioning

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLockTest(t *testing.T) (*RedisLockManager, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLockManager(client, time.Second, nil), mr
}

func TestRedisLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	manager, _ := setupRedisLockTest(t)

	lock, acquired, err := manager.TryAcquire(ctx, "scope")
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = manager.TryAcquire(ctx, "scope")
	require.NoError(t, err)
	assert.False(t, acquired)

	lock.Release()

	_, acquired, err = manager.TryAcquire(ctx, "scope")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLockExpiresWithoutHeartbeat(t *testing.T) {
	ctx := context.Background()
	manager, mr := setupRedisLockTest(t)

	_, acquired, err := manager.TryAcquire(ctx, "scope")
	require.NoError(t, err)
	require.True(t, acquired)

	// A crashed holder never renews; the lease lapses on its own
	mr.FastForward(2 * time.Second)

	_, acquired, err = manager.TryAcquire(ctx, "scope")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLockReleaseIsOwnerScoped(t *testing.T) {
	ctx := context.Background()
	manager, mr := setupRedisLockTest(t)

	first, acquired, err := manager.TryAcquire(ctx, "scope")
	require.NoError(t, err)
	require.True(t, acquired)

	// The first holder's lease lapses and someone else takes the lock
	mr.FastForward(2 * time.Second)
	_, acquired, err = manager.TryAcquire(ctx, "scope")
	require.NoError(t, err)
	require.True(t, acquired)

	// The stale holder's release must not free the new holder's lock
	first.Release()

	_, acquired, err = manager.TryAcquire(ctx, "scope")
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestRedisLockDistinctScopesIndependent(t *testing.T) {
	ctx := context.Background()
	manager, _ := setupRedisLockTest(t)

	_, acquired, err := manager.TryAcquire(ctx, "scope-a")
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = manager.TryAcquire(ctx, "scope-b")
	require.NoError(t, err)
	assert.True(t, acquired)
}
