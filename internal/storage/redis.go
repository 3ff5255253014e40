package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// keyspace prefix so the app shares a redis database politely.
const redisKeyPrefix = "chargebridge:"

// RedisStore persists entries as plain redis strings.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, redisKeyPrefix+key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (s *RedisStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		value, err := s.client.Get(ctx, fullKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[fullKey[len(redisKeyPrefix):]] = value
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
