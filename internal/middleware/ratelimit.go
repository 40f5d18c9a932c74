package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rentscope/api/pkg/response"
)

type RateLimiter struct {
	redis *redis.Client
	log   *zap.SugaredLogger
}

func NewRateLimiter(redisClient *redis.Client, log *zap.SugaredLogger) *RateLimiter {
	return &RateLimiter{redis: redisClient, log: log}
}

// Limit allows maxRequests per window per client IP.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, c.IP())
		ctx := context.Background()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Fail open.
			rl.log.Warnw("rate limiter unavailable", "key", key, "error", err)
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// JobsLimit limits job creation and retries per minute.
func (rl *RateLimiter) JobsLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("jobs", maxPerMin, time.Minute)
}

// BatchLimit limits campaign starts per day.
func (rl *RateLimiter) BatchLimit(maxPerDay int) fiber.Handler {
	return rl.Limit("batch", maxPerDay, 24*time.Hour)
}
