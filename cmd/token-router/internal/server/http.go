package server

import (
	"context"
	nethttp "net/http"
	"strconv"
	"time"

	"tokenrouter/cmd/token-router/internal/service"
	"tokenrouter/pkg/auth"
	pkgerrors "tokenrouter/pkg/errors"
	"tokenrouter/pkg/health"
	"tokenrouter/pkg/middleware"
	"tokenrouter/pkg/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const serviceName = "token-router"

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Network string `mapstructure:"network"`
	Addr    string `mapstructure:"addr"`
	Timeout string `mapstructure:"timeout"`

	// 写接口限流（每用户每窗口），0 表示使用默认值
	RateLimit       int    `mapstructure:"rate_limit"`
	RateLimitWindow string `mapstructure:"rate_limit_window"`
}

// ReadinessChecker 就绪检查，返回各依赖的检查结果
type ReadinessChecker interface {
	Check(ctx context.Context) map[string]health.CheckResult
}

// NewHTTPServer 创建HTTP服务器，业务路由由 gin 处理
func NewHTTPServer(
	c *HTTPConfig,
	identity middleware.IdentityConfig,
	svc *service.TokenService,
	rbac *auth.RBACManager,
	rdb *redis.Client,
	ready ReadinessChecker,
	logger log.Logger,
) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			tracing.Server(),
			logging.Server(logger),
		),
	}
	if c.Network != "" {
		opts = append(opts, http.Network(c.Network))
	}
	if c.Addr != "" {
		opts = append(opts, http.Address(c.Addr))
	}
	if c.Timeout != "" {
		if timeout, err := time.ParseDuration(c.Timeout); err == nil {
			opts = append(opts, http.Timeout(timeout))
		}
	}

	srv := http.NewServer(opts...)
	srv.HandlePrefix("/", NewRouter(c, identity, svc, rbac, rdb, ready, logger))
	return srv
}

// NewRouter 构建 gin 路由
func NewRouter(
	c *HTTPConfig,
	identity middleware.IdentityConfig,
	svc *service.TokenService,
	rbac *auth.RBACManager,
	rdb *redis.Client,
	ready ReadinessChecker,
	logger log.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.NewHelper(logger).Errorf("panic on %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		middleware.AbortWithError(c, pkgerrors.NewInternalServerError("INTERNAL_ERROR", "internal error"))
	}))
	engine.Use(requestLogger(logger))
	engine.Use(metricsMiddleware())

	engine.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, pkgerrors.NewNotFound("ROUTE_NOT_FOUND", "route not found"))
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	engine.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		results := ready.Check(ctx)
		status := nethttp.StatusOK
		if health.Overall(results) != health.StatusHealthy {
			status = nethttp.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": health.Overall(results), "checks": results})
	})

	window := time.Minute
	if c.RateLimitWindow != "" {
		if d, err := time.ParseDuration(c.RateLimitWindow); err == nil {
			window = d
		}
	}
	limiter := middleware.RateLimiter(middleware.RateLimiterConfig{
		RedisClient: rdb,
		MaxRequests: c.RateLimit,
		Window:      window,
		KeyPrefix:   "token_router:rate",
	})
	idempotent := middleware.Idempotency(middleware.IdempotencyConfig{
		RedisClient: rdb,
		KeyPrefix:   "token_router:idempotency",
	})

	h := &handler{svc: svc}
	api := engine.Group("/api/v1", middleware.GinIdentity(identity))
	{
		wallets := api.Group("/wallets/:user_id")
		wallets.GET("", h.getWallet)
		wallets.GET("/ledger", h.getLedger)
		wallets.POST("/adjust", limiter, idempotent, h.adjustTokens)
		wallets.GET("/verify", h.verifyWallet)
		wallets.POST("/deactivate", h.deactivateWallet)

		policies := api.Group("/policies", middleware.RequirePermission(rbac, auth.PermissionManagePolicies))
		policies.GET("", h.listPolicies)
		policies.PUT("", h.upsertPolicy)

		workers := api.Group("/workers")
		workers.POST("", middleware.RequirePermission(rbac, auth.PermissionManageWorkers), h.registerWorker)
		workers.GET("/available", h.availableWorkers)
		workers.GET("/stats", h.workerStats)
		managed := workers.Group("/:worker_id", middleware.RequirePermission(rbac, auth.PermissionManageWorkers))
		managed.POST("/heartbeat", h.heartbeat)
		managed.PUT("/health", h.updateHealth)
		managed.PUT("/load", h.updateLoad)
		managed.PUT("/status", h.setStatus)
		workers.GET("/:worker_id/metrics", h.workerMetrics)

		executions := api.Group("/executions")
		executions.POST("", middleware.RequirePermission(rbac, auth.PermissionDispatch), limiter, idempotent, h.dispatch)
		executions.GET("/:id", h.getExecution)
	}

	return engine
}

// requestLogger gin 请求日志
func requestLogger(logger log.Logger) gin.HandlerFunc {
	helper := log.NewHelper(log.With(logger, "module", "server/http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		helper.Infow(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// metricsMiddleware 记录请求计数和耗时，路径使用路由模板
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		monitoring.RequestsTotal.WithLabelValues(serviceName, c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		monitoring.RequestDuration.WithLabelValues(serviceName, c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
