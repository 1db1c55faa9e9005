package main

import (
	"time"

	"tokenrouter/cmd/token-router/internal/data"
	"tokenrouter/cmd/token-router/internal/infra"
	"tokenrouter/cmd/token-router/internal/server"
	"tokenrouter/pkg/logging"
	"tokenrouter/pkg/observability"
)

// Config is application config.
type Config struct {
	Server   ServerConf                  `mapstructure:"server"`
	Data     data.Config                 `mapstructure:"data"`
	Kafka    infra.KafkaConfig           `mapstructure:"kafka"`
	Engine   infra.EngineConfig          `mapstructure:"engine"`
	Auth     AuthConf                    `mapstructure:"auth"`
	Router   RouterConf                  `mapstructure:"router"`
	Registry server.RegistryConfig       `mapstructure:"registry"`
	Tracing  observability.TracingConfig `mapstructure:"tracing"`
	Log      logging.Config              `mapstructure:"log"`
}

// ServerConf is server config.
type ServerConf struct {
	HTTP server.HTTPConfig `mapstructure:"http"`
	GRPC server.GRPCConfig `mapstructure:"grpc"`
}

// AuthConf 身份解析配置
type AuthConf struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	AccessExpiry time.Duration `mapstructure:"access_expiry"`
	// 允许 X-User-ID 等请求头直接声明身份（网关已鉴权时使用）
	AllowHeaderIdentity bool `mapstructure:"allow_header_identity"`
}

// RouterConf 路由与调度配置
type RouterConf struct {
	DefaultStrategy     string        `mapstructure:"default_strategy"`
	DefaultMinReserve   int64         `mapstructure:"default_min_reserve"`
	RefundOnFailure     bool          `mapstructure:"refund_on_failure"`
	ExecutionTimeout    time.Duration `mapstructure:"execution_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	StaleAfter          time.Duration `mapstructure:"stale_after"`
	AllocationInterval  time.Duration `mapstructure:"allocation_interval"`
	PolicySeedFile      string        `mapstructure:"policy_seed_file"`
}
