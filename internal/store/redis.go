package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the distributed KeyValueStore. Each collection maps to a
// Redis hash, matching the deployment where multiple server and worker
// processes share one Redis instance.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client. A non-zero ttl bounds the
// lifetime of every collection touched by a write; zero keeps records
// forever.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Store implements KeyValueStore.
func (s *RedisStore) Store(ctx context.Context, collection, key, value string) error {
	if err := s.client.HSet(ctx, collection, key, value).Err(); err != nil {
		return wrapErr("store", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, collection, s.ttl).Err(); err != nil {
			return wrapErr("store", err)
		}
	}
	return nil
}

// Retrieve implements KeyValueStore.
func (s *RedisStore) Retrieve(ctx context.Context, collection, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, collection, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("retrieve", err)
	}
	return value, true, nil
}

// Exists implements KeyValueStore.
func (s *RedisStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	ok, err := s.client.HExists(ctx, collection, key).Result()
	if err != nil {
		return false, wrapErr("exists", err)
	}
	return ok, nil
}

func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Compile-time interface check.
var _ KeyValueStore = (*RedisStore)(nil)
