package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/model"
)

// PropertyLoader reads a location's properties from the source of truth.
type PropertyLoader func(ctx context.Context, locationID string) ([]model.Property, error)

// PropertyCache caches property lists per location. Entries expire after
// ttl even when an invalidation is missed.
type PropertyCache struct {
	redis *redis.Client
	ttl   time.Duration
	load  PropertyLoader
	log   *zap.SugaredLogger
}

func NewPropertyCache(redisClient *redis.Client, ttl time.Duration, load PropertyLoader, log *zap.SugaredLogger) *PropertyCache {
	return &PropertyCache{redis: redisClient, ttl: ttl, load: load, log: log}
}

func cacheKey(locationID string) string {
	return fmt.Sprintf("properties:%s", locationID)
}

// Properties returns the cached list or loads and caches it. A redis
// failure falls through to the loader.
func (c *PropertyCache) Properties(ctx context.Context, locationID string) ([]model.Property, error) {
	data, err := c.redis.Get(ctx, cacheKey(locationID)).Bytes()
	switch {
	case err == nil:
		var props []model.Property
		if err := json.Unmarshal(data, &props); err == nil {
			return props, nil
		}
		c.log.Warnw("discarding corrupt cache entry", "locationId", locationID)
	case !errors.Is(err, redis.Nil):
		c.log.Warnw("property cache read failed", "locationId", locationID, "error", err)
	}

	props, err := c.load(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(props); err == nil {
		if err := c.redis.Set(ctx, cacheKey(locationID), data, c.ttl).Err(); err != nil {
			c.log.Warnw("property cache write failed", "locationId", locationID, "error", err)
		}
	}
	return props, nil
}

func (c *PropertyCache) Invalidate(ctx context.Context, locationID string) error {
	return c.redis.Del(ctx, cacheKey(locationID)).Err()
}

// ListenForUpdates drops cache entries as data updated events arrive. It
// blocks until ctx is cancelled.
func (c *PropertyCache) ListenForUpdates(ctx context.Context) error {
	sub := c.redis.Subscribe(ctx, ChannelDataUpdated)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", ChannelDataUpdated, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event model.DataUpdatedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.log.Warnw("ignoring malformed data updated event", "error", err)
				continue
			}
			if err := c.Invalidate(ctx, event.LocationID); err != nil {
				c.log.Warnw("cache invalidation failed", "locationId", event.LocationID, "error", err)
				continue
			}
			c.log.Debugw("property cache invalidated", "locationId", event.LocationID, "jobId", event.JobID)
		}
	}
}
