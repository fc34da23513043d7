package whiteboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/liveboard/liveboard/internal/db"
	"github.com/redis/go-redis/v9"
)

// RedisSnapshotCache keeps each session's newest snapshot in Redis so joins
// skip the database.
type RedisSnapshotCache struct {
	client *redis.Client
	keys   *db.RedisKeyBuilder
	ttl    time.Duration
}

// NewRedisSnapshotCache creates a cache whose entries expire after ttl.
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, keys: db.NewRedisKeyBuilder(), ttl: ttl}
}

// Get returns the cached snapshot. A miss is (nil, false, nil).
func (c *RedisSnapshotCache) Get(ctx context.Context, sessionID string) (*Snapshot, bool, error) {
	data, err := c.client.Get(ctx, c.keys.LatestSnapshotKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return &snap, true, nil
}

// Put stores s as the session's newest snapshot.
func (c *RedisSnapshotCache) Put(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.keys.LatestSnapshotKey(s.SessionID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry for a session.
func (c *RedisSnapshotCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.keys.LatestSnapshotKey(sessionID)).Err()
}
