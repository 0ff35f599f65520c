package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestDedupStoreMarksOncePerGroup(t *testing.T) {
	mr, rdb := newRedis(t)
	store, err := NewDedupStore(rdb, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "inventory", "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
	// Checking alone leaves nothing behind.
	seen, err = store.Seen(ctx, "inventory", "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Mark(ctx, "inventory", "evt-1"))
	seen, err = store.Seen(ctx, "inventory", "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.Seen(ctx, "payment", "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	assert.Equal(t, time.Hour, mr.TTL(DedupKey("inventory", "evt-1")))
}

func TestDedupStoreValidatesInput(t *testing.T) {
	_, rdb := newRedis(t)
	_, err := NewDedupStore(rdb, 0)
	require.Error(t, err)

	store, err := NewDedupStore(rdb, time.Minute)
	require.NoError(t, err)
	_, err = store.Seen(context.Background(), "", "evt")
	require.Error(t, err)
	require.Error(t, store.Mark(context.Background(), "g", ""))
}

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()

	a, err := NewLock(rdb, "reservation-sweep", time.Minute)
	require.NoError(t, err)
	b, err := NewLock(rdb, "reservation-sweep", time.Minute)
	require.NoError(t, err)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must not free the lock")

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	a, _ := NewLock(rdb, "job", 10*time.Second)
	b, _ := NewLock(rdb, "job", 10*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// a's stale release must not drop b's lock.
	require.NoError(t, a.Release(ctx))
	assert.True(t, mr.Exists(JobLockKey("job")))
}

func TestWebhookGuard(t *testing.T) {
	mr, rdb := newRedis(t)
	g := NewWebhookGuard(rdb, time.Hour)
	ctx := context.Background()

	seen, err := g.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, g.Mark(ctx, "evt_1"))
	seen, err = g.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, time.Hour, mr.TTL(WebhookKey("evt_1")))
}
