package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore tracks processed event ids per consumer group, each mark with a TTL.
type DedupStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewDedupStore(rdb redis.Cmdable, ttl time.Duration) (*DedupStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("dedup ttl must be positive")
	}
	return &DedupStore{rdb: rdb, ttl: ttl}, nil
}

func (s *DedupStore) Seen(ctx context.Context, group, eventID string) (bool, error) {
	if group == "" || eventID == "" {
		return false, errors.New("group and event id are required")
	}
	n, err := s.rdb.Exists(ctx, DedupKey(group, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *DedupStore) Mark(ctx context.Context, group, eventID string) error {
	if group == "" || eventID == "" {
		return errors.New("group and event id are required")
	}
	return s.rdb.Set(ctx, DedupKey(group, eventID), "1", s.ttl).Err()
}

// WebhookGuard records processed processor event ids with a TTL.
type WebhookGuard struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewWebhookGuard(rdb redis.Cmdable, ttl time.Duration) *WebhookGuard {
	return &WebhookGuard{rdb: rdb, ttl: ttl}
}

func (g *WebhookGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := g.rdb.Exists(ctx, WebhookKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *WebhookGuard) Mark(ctx context.Context, eventID string) error {
	return g.rdb.Set(ctx, WebhookKey(eventID), "1", g.ttl).Err()
}
