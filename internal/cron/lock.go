package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock hands out per-job leases so only one cron worker runs a job at a time.
// Acquire returns an empty token when another worker holds the lease.
type Lock interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (string, error)
	Release(ctx context.Context, job, token string) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock keeps one SETNX key per job under prefix.
type RedisLock struct {
	client redisStore
	prefix string
}

// NewRedisLock scopes leases to the environment, e.g. storefront:prod:cron:payment-poll.
func NewRedisLock(client redisStore, env string) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if env == "" {
		env = "local"
	}
	return &RedisLock{client: client, prefix: fmt.Sprintf("storefront:%s:cron", env)}, nil
}

// Key is the Redis key guarding job.
func (l *RedisLock) Key(job string) string {
	return l.prefix + ":" + job
}

func (l *RedisLock) Acquire(ctx context.Context, job string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("lease ttl for %s must be positive", job)
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.Key(job), token, ttl)
	if err != nil {
		return "", fmt.Errorf("setnx %s: %w", job, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// Release drops the lease only while token still owns it.
func (l *RedisLock) Release(ctx context.Context, job, token string) error {
	if token == "" {
		return nil
	}
	key := l.Key(job)
	value, err := l.client.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lease owner for %s: %w", job, err)
	}
	if value != token {
		return nil
	}
	if err := l.client.Del(ctx, key); err != nil {
		return fmt.Errorf("delete lease for %s: %w", job, err)
	}
	return nil
}
