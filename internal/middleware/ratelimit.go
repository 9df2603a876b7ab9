package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realtime-core/internal/database"
	"realtime-core/pkg/logger"
	"realtime-core/pkg/response"
)

// RateLimiter implements a Redis fixed-window rate limit per user (or client IP
// before authentication). It fails open while Redis is degraded.
type RateLimiter struct {
	redis    *database.RedisClient
	requests int
	window   time.Duration
	prefix   string
}

// NewRateLimiter allows requests per window for each caller
func NewRateLimiter(redis *database.RedisClient, prefix string, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:    redis,
		requests: requests,
		window:   window,
		prefix:   prefix,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.redis == nil || rl.redis.IsDegraded() {
			c.Next()
			return
		}

		identity := c.ClientIP()
		if userID, ok := UserID(c); ok {
			identity = userID.String()
		}
		windowSecs := int64(rl.window / time.Second)
		if windowSecs < 1 {
			windowSecs = 1
		}
		window := time.Now().Unix() / windowSecs
		key := fmt.Sprintf("ratelimit:%s:%s:%d", rl.prefix, identity, window)

		count, err := rl.increment(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limit check failed, allowing request",
				zap.String("key", key),
				zap.Error(err))
			c.Next()
			return
		}

		remaining := rl.requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if int(count) > rl.requests {
			c.Header("Retry-After", strconv.FormatInt(windowSecs, 10))
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) increment(ctx context.Context, key string) (int64, error) {
	pipe := rl.redis.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
