package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	pkgerrors "tokenrouter/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	IdempotencyTTL       = 24 * time.Hour // 幂等性保持时间
)

// IdempotencyConfig 幂等性配置
type IdempotencyConfig struct {
	RedisClient *redis.Client
	KeyPrefix   string
	TTL         time.Duration
}

// Idempotency 创建幂等性中间件。同一 Idempotency-Key 的成功响应会被重放；
// 相同 key 携带不同请求体时返回 422。
func Idempotency(config IdempotencyConfig) gin.HandlerFunc {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "idempotency"
	}
	if config.TTL == 0 {
		config.TTL = IdempotencyTTL
	}

	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader(IdempotencyKeyHeader)
		if idempotencyKey == "" || config.RedisClient == nil {
			c.Next()
			return
		}

		hashInput := fmt.Sprintf("%s:%s:%s:%s:%s",
			c.Request.Method,
			c.Request.URL.Path,
			idempotencyKey,
			c.GetString("tenant_id"),
			c.GetString("user_id"),
		)
		hash := sha256.Sum256([]byte(hashInput))
		redisKey := fmt.Sprintf("%s:%s", config.KeyPrefix, hex.EncodeToString(hash[:]))

		ctx := c.Request.Context()

		payload, err := c.GetRawData()
		if err != nil {
			AbortWithError(c, pkgerrors.NewBadRequest("INVALID_REQUEST", "read request body failed"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(payload))
		bodySum := sha256.Sum256(payload)
		digest := hex.EncodeToString(bodySum[:])

		// 已处理，返回缓存结果
		if result, err := config.RedisClient.Get(ctx, redisKey).Bytes(); err == nil {
			status, cachedDigest, body := decodeCached(result)
			if cachedDigest != "" && cachedDigest != digest {
				AbortWithError(c, pkgerrors.NewUnprocessable("IDEMPOTENCY_KEY_REUSED", "idempotency key reused with a different request body"))
				return
			}
			c.Header("X-Idempotency-Replayed", "true")
			c.Data(status, "application/json", body)
			c.Abort()
			return
		}

		lockKey := redisKey + ":lock"
		locked, err := config.RedisClient.SetNX(ctx, lockKey, "1", 30*time.Second).Result()
		if err != nil {
			AbortWithError(c, pkgerrors.NewServiceUnavailable("IDEMPOTENCY_UNAVAILABLE", "idempotency check failed"))
			return
		}
		if !locked {
			AbortWithError(c, pkgerrors.NewConflict("REQUEST_IN_PROGRESS", "request is being processed"))
			return
		}
		defer config.RedisClient.Del(ctx, lockKey)

		writer := &responseWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		if status := c.Writer.Status(); status >= 200 && status < 300 {
			config.RedisClient.Set(ctx, redisKey, encodeCached(status, digest, writer.body), config.TTL)
		}
	}
}

// encodeCached 缓存格式为 "<status>\n<body sha256>\n<body>"
func encodeCached(status int, digest string, body []byte) []byte {
	return append([]byte(strconv.Itoa(status)+"\n"+digest+"\n"), body...)
}

func decodeCached(raw []byte) (int, string, []byte) {
	parts := bytes.SplitN(raw, []byte("\n"), 3)
	if len(parts) == 3 {
		if status, err := strconv.Atoi(string(parts[0])); err == nil {
			return status, string(parts[1]), parts[2]
		}
	}
	return http.StatusOK, "", raw
}

// responseWriter 用于捕获响应body
type responseWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseWriter) Write(data []byte) (int, error) {
	w.body = append(w.body, data...)
	return w.ResponseWriter.Write(data)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body = append(w.body, s...)
	return w.ResponseWriter.WriteString(s)
}
