package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"time"
)

// RedisClient defines the Redis operations RedisStore needs.
// It mirrors the method set of github.com/redis/go-redis/v9, so a thin
// adapter over *redis.Client satisfies it.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd
	Get(ctx context.Context, key string) RedisStringCmd
	Del(ctx context.Context, keys ...string) RedisIntCmd
	Keys(ctx context.Context, pattern string) RedisStringSliceCmd
	Pipeline() RedisPipeliner
	Close() error
}

// RedisStatusCmd represents a Redis status command result.
type RedisStatusCmd interface {
	Err() error
}

// RedisStringCmd represents a Redis string command result.
type RedisStringCmd interface {
	Bytes() ([]byte, error)
	Err() error
}

// RedisIntCmd represents a Redis int command result.
type RedisIntCmd interface {
	Err() error
}

// RedisStringSliceCmd represents a Redis string slice command result.
type RedisStringSliceCmd interface {
	Result() ([]string, error)
}

// RedisPipeliner represents a Redis pipeline.
type RedisPipeliner interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd
	Exec(ctx context.Context) ([]interface{}, error)
}

// ErrRedisNil is returned when a key doesn't exist in Redis.
// This should match redis.Nil from go-redis.
var ErrRedisNil = errors.New("redis: nil")

// RedisStore is a Redis-backed store.
// It's suitable for multi-process deployments sharing node values.
type RedisStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	closed atomic.Bool
}

// RedisStoreOption configures RedisStore behavior.
type RedisStoreOption func(*redisStoreConfig)

type redisStoreConfig struct {
	prefix string
	ttl    time.Duration
}

// WithRedisPrefix sets the key prefix.
// Default: "fluxio:".
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(c *redisStoreConfig) {
		c.prefix = prefix
	}
}

// WithRedisTTL makes every saved value expire after ttl.
// Default: 0 (no expiration).
func WithRedisTTL(ttl time.Duration) RedisStoreOption {
	return func(c *redisStoreConfig) {
		c.ttl = ttl
	}
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client RedisClient, opts ...RedisStoreOption) *RedisStore {
	cfg := &redisStoreConfig{
		prefix: "fluxio:",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.prefix,
		ttl:    cfg.ttl,
	}
}

// key returns the Redis key for a store key.
func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

// Save stores data under key.
func (r *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrClosed
	}
	return r.client.Set(ctx, r.key(key), data, r.ttl).Err()
}

// Load retrieves the value of key.
func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func isRedisNil(err error) bool {
	return errors.Is(err, ErrRedisNil) || err.Error() == ErrRedisNil.Error()
}

// Delete removes key from Redis.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrClosed
	}
	return r.client.Del(ctx, r.key(key)).Err()
}

// Keys lists the keys under the store prefix.
func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	raw, err := r.client.Keys(ctx, r.prefix+"*").Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if key, ok := strings.CutPrefix(k, r.prefix); ok && key != "" {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// SaveAll saves every value using a Redis pipeline.
func (r *RedisStore) SaveAll(ctx context.Context, values map[string][]byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if len(values) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for key, data := range values {
		if err := checkKey(key); err != nil {
			return err
		}
		pipe.Set(ctx, r.key(key), data, r.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Close marks the store as closed.
// Note: This does not close the underlying Redis client,
// as it may be shared with other components.
func (r *RedisStore) Close() error {
	r.closed.Store(true)
	return nil
}

// Prefix returns the current key prefix.
func (r *RedisStore) Prefix() string {
	return r.prefix
}
