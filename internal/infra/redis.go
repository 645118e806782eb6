package infra

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	mem "skillmart/pkg/memcache"
)

//go:embed release_lease.lua
var releaseLeaseScript string

func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisStore is the shared Deduper and Lease used when several instances run.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

var (
	_ mem.Deduper = (*RedisStore)(nil)
	_ mem.Lease   = (*RedisStore)(nil)
)

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Remember(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.key(key), 1, ttl).Err()
}

func (s *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, s.key(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	return s.rdb.Eval(ctx, releaseLeaseScript, []string{s.key(key)}, token).Err()
}
