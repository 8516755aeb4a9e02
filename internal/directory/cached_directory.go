package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sawafleet/collection-reconciler/internal/interfaces"
	"github.com/sawafleet/collection-reconciler/internal/telemetry"
)

// CachedDirectory wraps a DriverDirectory with a redis read-through cache.
// Only positive lookups are cached; a driver whose phone is missing today
// may get one on file tomorrow. Cache failures degrade to the inner lookup.
type CachedDirectory struct {
	inner  interfaces.DriverDirectory
	client *redis.Client
	ttl    time.Duration
}

func NewCachedDirectory(inner interfaces.DriverDirectory, client *redis.Client, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{inner: inner, client: client, ttl: ttl}
}

func (d *CachedDirectory) PhoneForDriver(ctx context.Context, tenantID, driverID string) (string, error) {
	key := fmt.Sprintf("driver_phone:%s:%s", tenantID, driverID)

	phone, err := d.client.Get(ctx, key).Result()
	if err == nil && phone != "" {
		return phone, nil
	}
	if err != nil && err != redis.Nil {
		telemetry.Logger.Warn("Driver cache read failed",
			zap.String("tenant_id", tenantID),
			zap.String("driver_id", driverID),
			zap.Error(err),
		)
	}

	phone, err = d.inner.PhoneForDriver(ctx, tenantID, driverID)
	if err != nil {
		return "", err
	}

	if err := d.client.Set(ctx, key, phone, d.ttl).Err(); err != nil {
		telemetry.Logger.Warn("Driver cache write failed",
			zap.String("tenant_id", tenantID),
			zap.String("driver_id", driverID),
			zap.Error(err),
		)
	}
	return phone, nil
}
