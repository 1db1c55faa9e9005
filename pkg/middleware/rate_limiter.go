package middleware

import (
	"fmt"
	"time"

	pkgerrors "tokenrouter/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RedisClient *redis.Client
	MaxRequests int           // 最大请求数
	Window      time.Duration // 时间窗口
	KeyPrefix   string        // Redis key前缀
}

// RateLimiter 按租户+用户固定窗口限流。Redis 不可用时放行。
func RateLimiter(config RateLimiterConfig) gin.HandlerFunc {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rate_limit"
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 100
	}
	if config.Window == 0 {
		config.Window = time.Minute
	}

	return func(c *gin.Context) {
		if config.RedisClient == nil {
			c.Next()
			return
		}

		key := fmt.Sprintf("%s:%s:%s", config.KeyPrefix, c.GetString("tenant_id"), c.GetString("user_id"))
		ctx := c.Request.Context()

		count, err := config.RedisClient.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			// 窗口内首次请求设置过期
			config.RedisClient.Expire(ctx, key, config.Window)
		}

		reset := fmt.Sprintf("%d", time.Now().Add(config.Window).Unix())
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", config.MaxRequests))
		c.Header("X-RateLimit-Reset", reset)

		if count > int64(config.MaxRequests) {
			c.Header("X-RateLimit-Remaining", "0")
			AbortWithError(c, pkgerrors.NewTooManyRequests("RATE_LIMITED", "rate limit exceeded"))
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", config.MaxRequests-int(count)))
		c.Next()
	}
}
