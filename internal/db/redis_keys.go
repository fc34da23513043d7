package db

import "fmt"

// RedisKeyBuilder builds the keys used by the whiteboard service. Every key
// shares the "whiteboard:" namespace so a shared Redis can be inspected by
// prefix.
type RedisKeyBuilder struct{}

// NewRedisKeyBuilder creates a new Redis key builder
func NewRedisKeyBuilder() *RedisKeyBuilder {
	return &RedisKeyBuilder{}
}

// LatestSnapshotKey holds the cached newest snapshot of a session.
func (b *RedisKeyBuilder) LatestSnapshotKey(sessionID string) string {
	return fmt.Sprintf("whiteboard:snapshot:latest:%s", sessionID)
}

// EventDedupKey marks a lifecycle event as already emitted.
func (b *RedisKeyBuilder) EventDedupKey(fingerprint string) string {
	return fmt.Sprintf("whiteboard:event:dedup:%s", fingerprint)
}
