// Package cache stores computed comparison payloads so repeated dashboard requests
// skip the database and the aggregation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMiss is returned when a key is absent or expired
var ErrMiss = errors.New("cache miss")

// Cache is a byte cache with prefix invalidation
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// DeletePrefix removes every key starting with prefix and returns how many were removed
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Config holds Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis implements Cache on go-redis
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, cfg Config, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return NewRedisWithClient(client, cfg.TTL, logger), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

// Get retrieves a value
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return b, nil
}

// Set stores a value with the configured TTL (0 keeps it until invalidated)
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// DeletePrefix scans for matching keys and deletes them in batches
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	const batch = 100

	iter := r.client.Scan(ctx, 0, prefix+"*", batch).Iterator()
	keys := make([]string, 0, batch)
	deleted := 0
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("delete %d keys: %w", len(keys), err)
		}
		deleted += int(n)
		keys = keys[:0]
		return nil
	}

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == batch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan %s*: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	r.logger.Info("cache invalidated", zap.String("prefix", prefix), zap.Int("deleted", deleted))
	return deleted, nil
}

// Ping checks the connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Client exposes the underlying connection for other Redis-backed helpers
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close closes the connection
func (r *Redis) Close() error {
	return r.client.Close()
}

// Nop never stores anything
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Nop) Set(context.Context, string, []byte) error { return nil }
func (Nop) DeletePrefix(context.Context, string) (int, error) { return 0, nil }
