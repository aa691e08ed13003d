package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/advogo/billingcore/pkg/jurisdiction"
)

// CachedReader decorates a Reader with a Redis read-through cache. The cache
// is injected and explicitly scoped by key prefix; cache failures degrade to
// a direct catalog lookup with a warning, never to an error for the caller.
type CachedReader struct {
	inner  Reader
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewCachedReader wraps a catalog reader with a Redis cache. A zero ttl
// defaults to five minutes.
func NewCachedReader(inner Reader, client *redis.Client, ttl time.Duration, log *slog.Logger) *CachedReader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedReader{inner: inner, client: client, ttl: ttl, log: log}
}

func planCacheKey(j jurisdiction.Code, name string) string {
	return fmt.Sprintf("catalog:plan:%s:%s", j, name)
}

func upgradeCacheKey(j jurisdiction.Code) string {
	return fmt.Sprintf("catalog:upgrade:%s", j)
}

func (c *CachedReader) GetPlanByName(ctx context.Context, name string, j jurisdiction.Code) (Plan, error) {
	key := planCacheKey(j, name)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var plan Plan
		if err := json.Unmarshal(raw, &plan); err == nil {
			return plan, nil
		}
		// Corrupt entry: drop it and fall through to the catalog.
		_ = c.client.Del(ctx, key).Err()
	} else if err != redis.Nil {
		c.log.WarnContext(ctx, "plan cache read failed", slog.Any("error", err), slog.String("key", key))
	}

	plan, err := c.inner.GetPlanByName(ctx, name, j)
	if err != nil {
		// Negative results are not cached: plan rollouts should become
		// visible without waiting for TTL expiry.
		return Plan{}, err
	}

	if raw, err := json.Marshal(plan); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.log.WarnContext(ctx, "plan cache write failed", slog.Any("error", err), slog.String("key", key))
		}
	}

	return plan, nil
}

func (c *CachedReader) ListUpgradePlans(ctx context.Context, j jurisdiction.Code) ([]Plan, error) {
	key := upgradeCacheKey(j)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var plans []Plan
		if err := json.Unmarshal(raw, &plans); err == nil {
			return plans, nil
		}
		_ = c.client.Del(ctx, key).Err()
	} else if err != redis.Nil {
		c.log.WarnContext(ctx, "plan cache read failed", slog.Any("error", err), slog.String("key", key))
	}

	plans, err := c.inner.ListUpgradePlans(ctx, j)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(plans); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.log.WarnContext(ctx, "plan cache write failed", slog.Any("error", err), slog.String("key", key))
		}
	}

	return plans, nil
}

// Invalidate drops the cached entries for one plan and its jurisdiction's
// upgrade list. Called by operator tooling after catalog changes.
func (c *CachedReader) Invalidate(ctx context.Context, name string, j jurisdiction.Code) error {
	return c.client.Del(ctx, planCacheKey(j, name), upgradeCacheKey(j)).Err()
}
