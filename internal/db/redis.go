package db

import (
	"context"
	"fmt"
	"time"

	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the configuration for a Redis connection
type RedisConfig struct {
	Host     string
	Port     string
	Password string //nolint:gosec // G117
	DB       int
	// Instrument enables redisotel tracing and metrics on the client.
	Instrument bool
}

// RedisDB wraps a Redis client
type RedisDB struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisDB connects and pings Redis
func NewRedisDB(cfg RedisConfig) (*RedisDB, error) {
	logger := slogging.Get()
	logger.Debug("Initializing Redis connection to %s:%s DB=%d", cfg.Host, cfg.Port, cfg.DB)

	client := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	})

	r, err := NewRedisDBFromClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return r, nil
}

// NewRedisDBFromClient wraps an existing client, instrumenting it when
// configured, and pings it.
func NewRedisDBFromClient(client *redis.Client, cfg RedisConfig) (*RedisDB, error) {
	if cfg.Instrument {
		if err := redisotel.InstrumentTracing(client); err != nil {
			return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			return nil, fmt.Errorf("failed to instrument redis metrics: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slogging.Get().Error("Failed to ping Redis: %v", err)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisDB{client: client, cfg: cfg}, nil
}

// Close closes the Redis connection
func (db *RedisDB) Close() error {
	if db.client == nil {
		return nil
	}
	return db.client.Close()
}

// GetClient returns the Redis client
func (db *RedisDB) GetClient() *redis.Client {
	return db.client
}

// Ping checks if the Redis connection is alive
func (db *RedisDB) Ping(ctx context.Context) error {
	return db.client.Ping(ctx).Err()
}
