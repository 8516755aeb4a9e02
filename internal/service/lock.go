package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sawafleet/collection-reconciler/internal/telemetry"
)

// RedisEventLocker serializes processing of one external reference across
// service instances with a SetNX lock. The TTL caps how long a crashed
// instance can hold a reference hostage.
type RedisEventLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisEventLocker(client *redis.Client, ttl time.Duration) *RedisEventLocker {
	return &RedisEventLocker{client: client, ttl: ttl}
}

func lockKey(externalRef string) string {
	return fmt.Sprintf("reconcile_lock:%s", externalRef)
}

func (l *RedisEventLocker) TryLock(ctx context.Context, externalRef string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(externalRef), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisEventLocker) Unlock(ctx context.Context, externalRef string) {
	if err := l.client.Del(ctx, lockKey(externalRef)).Err(); err != nil {
		telemetry.Logger.Warn("Failed to release processing lock",
			zap.String("external_ref", externalRef),
			zap.Error(err),
		)
	}
}
