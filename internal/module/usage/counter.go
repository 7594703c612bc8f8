package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Counter keeps hot usage counters in Redis so quota checks stay off the
// database. Counters expire at period end; a miss falls back to the durable
// records.
type Counter struct {
	redis redis.UniversalClient
}

// NewCounter creates a Redis usage counter.
func NewCounter(client redis.UniversalClient) *Counter {
	return &Counter{redis: client}
}

func counterKey(tenantID uuid.UUID, pluginSlug, metric, periodKey string) string {
	return fmt.Sprintf("usage:%s:%s:%s:%s", tenantID, pluginSlug, metric, periodKey)
}

// Get returns the cached counter value. A missing key returns found=false so
// the caller can consult the durable record.
func (c *Counter) Get(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric, periodKey string) (int64, bool, error) {
	key := counterKey(tenantID, pluginSlug, metric, periodKey)
	val, err := c.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get usage counter: %w", err)
	}
	return val, true, nil
}

// Set overwrites the counter, used to backfill from the durable record and
// after database increments. Writes never go through INCRBY: an evicted key
// re-created from zero would undercount, so the database value always wins.
func (c *Counter) Set(ctx context.Context, tenantID uuid.UUID, pluginSlug, metric, periodKey string, value int64, periodEnd time.Time) error {
	key := counterKey(tenantID, pluginSlug, metric, periodKey)
	ttl := time.Until(periodEnd)
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := c.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set usage counter: %w", err)
	}
	return nil
}

// DeleteCalendarScoped drops the cached calendar-month counters for a
// tenant+plugin pair. Subscription-scoped keys carry extra colon-separated
// segments and are left alone.
func (c *Counter) DeleteCalendarScoped(ctx context.Context, tenantID uuid.UUID, pluginSlug string) error {
	pattern := fmt.Sprintf("usage:%s:%s:*", tenantID, pluginSlug)
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// usage:{tenant}:{plugin}:{metric}:{periodKey}, calendar keys have
		// exactly four separators.
		if strings.Count(key, ":") != 4 {
			continue
		}
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("delete usage counter: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan usage counters: %w", err)
	}
	return nil
}
