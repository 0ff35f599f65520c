package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-saga-orders/internal/redisx"
)

// StatusCache fronts status lookups. The store stays the source of truth; a
// miss or a cache error falls back to it.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (StatusView, bool, error)
	Set(ctx context.Context, v StatusView) error
}

// RedisStatusCache stores the view as JSON under order_status:{id}.
type RedisStatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStatusCache(rdb redis.Cmdable, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{rdb: rdb, ttl: ttl}
}

func (c *RedisStatusCache) Get(ctx context.Context, orderID string) (StatusView, bool, error) {
	b, err := c.rdb.Get(ctx, redisx.OrderStatusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusView{}, false, nil
	}
	if err != nil {
		return StatusView{}, false, err
	}
	var v StatusView
	if err := json.Unmarshal(b, &v); err != nil {
		return StatusView{}, false, err
	}
	return v, true, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, v StatusView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, redisx.OrderStatusKey(v.OrderID), b, c.ttl).Err()
}

type memoryStatusCache struct {
	mu    sync.Mutex
	views map[string]StatusView
}

func newMemoryStatusCache() *memoryStatusCache {
	return &memoryStatusCache{views: make(map[string]StatusView)}
}

func (c *memoryStatusCache) Get(_ context.Context, orderID string) (StatusView, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[orderID]
	return v, ok, nil
}

func (c *memoryStatusCache) Set(_ context.Context, v StatusView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[v.OrderID] = v
	return nil
}
