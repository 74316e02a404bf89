package redisstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/db"
)

// RedisStore is a Redis-backed db.IStore for deployments where agents share
// a managed store instead of a local disk. Durability depends on the Redis
// persistence configuration (AOF with appendfsync always for parity with the
// badger backend).
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

var _ db.IStore = (*RedisStore)(nil)

// RedisConfig holds the connection settings for the Redis backend.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string
	// Password is the optional Redis password.
	Password string
	// DB is the Redis database number.
	DB int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	logger.Sugar().Infow("Redis store initialized", "address", cfg.Address, "db", cfg.DB)

	return &RedisStore{client: client, logger: logger}, nil
}

// Put stores value under key.
func (r *RedisStore) Put(key, value []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("store is closed")
	}
	return r.client.Set(context.Background(), string(key), value, 0).Err()
}

// Get retrieves the value under key, (nil, nil) if absent.
func (r *RedisStore) Get(key []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("store is closed")
	}
	data, err := r.client.Get(context.Background(), string(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return data, nil
}

// Delete removes key. Idempotent.
func (r *RedisStore) Delete(key []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("store is closed")
	}
	return r.client.Del(context.Background(), string(key)).Err()
}

// IteratePrefix visits keys under prefix in ascending order. Keys are
// collected with SCAN and sorted before visiting so ordering matches the
// other backends.
func (r *RedisStore) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("store is closed")
	}

	ctx := context.Background()
	var keys []string
	iter := r.client.Scan(ctx, 0, string(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	sort.Strings(keys)

	for _, k := range keys {
		data, err := r.client.Get(ctx, k).Bytes()
		if err == redis.Nil {
			continue // deleted between scan and get
		}
		if err != nil {
			return fmt.Errorf("failed to read key %q: %w", k, err)
		}
		if !fn([]byte(k), data) {
			return nil
		}
	}
	return nil
}

// Close shuts down the store. Idempotent.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// HealthCheck verifies the store is operational.
func (r *RedisStore) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("store is closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
