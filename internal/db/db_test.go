package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNewGormDB_SQLiteMemory(t *testing.T) {
	type widget struct {
		ID   uint `gorm:"primaryKey"`
		Name string
	}

	g, err := NewGormDB(GormConfig{Type: DatabaseTypeSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	assert.Equal(t, DatabaseTypeSQLite, g.DatabaseType())
	require.NoError(t, g.AutoMigrate(&widget{}))
	require.NoError(t, g.DB().Create(&widget{ID: 1, Name: "a"}).Error)

	err = g.DB().Create(&widget{ID: 1, Name: "b"}).Error
	require.Error(t, err)
	assert.True(t, IsDuplicateKeyError(err), "got %v", err)
	assert.NoError(t, g.Ping(context.Background()))
}

func TestNewGormDB_UnsupportedType(t *testing.T) {
	_, err := NewGormDB(GormConfig{Type: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, time.Duration(0), cfg.Delay(0))
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 300*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, 300*time.Millisecond, cfg.Delay(4))
}

func TestRetry(t *testing.T) {
	fast := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	transient := errors.New("driver: bad connection")
	retryable := func(err error) bool { return errors.Is(err, transient) }

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast, retryable, func(context.Context) error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast, retryable, func(context.Context) error {
			calls++
			return transient
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, transient)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		permanent := errors.New("syntax error")
		calls := 0
		err := Retry(context.Background(), fast, retryable, func(context.Context) error {
			calls++
			return permanent
		})
		assert.Equal(t, permanent, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("honours context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryConfig{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
		err := Retry(ctx, slow, retryable, func(context.Context) error {
			cancel()
			return transient
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.True(t, IsDuplicateKeyError(errors.New(`pq: duplicate key value violates unique constraint "pk"`)))
	assert.True(t, IsDuplicateKeyError(errors.New("Error 1062: Duplicate entry '1' for key 'PRIMARY'")))
	assert.True(t, IsDuplicateKeyError(errors.New("UNIQUE constraint failed: t.id")))
	assert.True(t, IsDuplicateKeyError(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.False(t, IsDuplicateKeyError(errors.New("not null constraint failed")))
}

func TestNewRedisDBFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	r, err := NewRedisDBFromClient(client, RedisConfig{})
	require.NoError(t, err)
	assert.NoError(t, r.Ping(context.Background()))
	assert.Same(t, client, r.GetClient())
	assert.NoError(t, r.Close())

	mr.Close()
	_, err = NewRedisDBFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), RedisConfig{})
	assert.Error(t, err)
}

func TestRedisKeyBuilder(t *testing.T) {
	b := NewRedisKeyBuilder()
	assert.Equal(t, "whiteboard:snapshot:latest:s-42", b.LatestSnapshotKey("s-42"))
	assert.Equal(t, "whiteboard:event:dedup:abc", b.EventDedupKey("abc"))
}
