package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eventems/backend/pkg/response"
)

var clock = time.Now

// RateLimit allows limit requests per window per caller using a Redis fixed window
// counter. Callers are keyed by user id when authenticated, else by client IP.
// Redis failures let the request through. limit <= 0 disables the check.
func RateLimit(rdb redis.Cmdable, name string, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		caller := c.ClientIP()
		if p := CurrentPrincipal(c); p != nil {
			caller = p.UserID.String()
		}
		key := RateLimitKey(name, caller, window, clock())

		n, err := rdb.Incr(c.Request.Context(), key).Result()
		if err != nil {
			logger.Warn("rate limit unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if n == 1 {
			if err := rdb.Expire(c.Request.Context(), key, window).Err(); err != nil {
				logger.Warn("rate limit expire", zap.String("key", key), zap.Error(err))
			}
		}
		if n > int64(limit) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			response.TooManyRequests(c, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimitKey returns the counter key for caller in the window containing now.
func RateLimitKey(name, caller string, window time.Duration, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", name, caller, now.Unix()/int64(window.Seconds()))
}
