package main

import (
	"context"
	"time"

	"tokenrouter/cmd/token-router/internal/biz"
	"tokenrouter/cmd/token-router/internal/data"
	"tokenrouter/cmd/token-router/internal/domain"
	"tokenrouter/cmd/token-router/internal/infra"
	"tokenrouter/cmd/token-router/internal/server"
	"tokenrouter/pkg/auth"
	"tokenrouter/pkg/health"
	"tokenrouter/pkg/middleware"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

func newServerConf(c *Config) *ServerConf { return &c.Server }
func newHTTPConfig(c *ServerConf) *server.HTTPConfig { return &c.HTTP }
func newGRPCConfig(c *ServerConf) *server.GRPCConfig { return &c.GRPC }
func newDataConfig(c *Config) *data.Config { return &c.Data }
func newKafkaConfig(c *Config) *infra.KafkaConfig { return &c.Kafka }
func newEngineConfig(c *Config) *infra.EngineConfig { return &c.Engine }
func newRegistryConfig(c *Config) *server.RegistryConfig { return &c.Registry }

func newRedisClient(d *data.Data) *redis.Client {
	return d.Redis()
}

func newReadinessChecker(d *data.Data, execLog *data.ExecutionLogRepo) server.ReadinessChecker {
	checker := health.NewHealthChecker(d.HealthCheckers()...)
	if execLog != nil {
		checker.Register(health.NewPingChecker("clickhouse", execLog.Ping))
	}
	return checker
}

func newIdentityConfig(c *Config) middleware.IdentityConfig {
	cfg := middleware.IdentityConfig{AllowHeaders: c.Auth.AllowHeaderIdentity}
	if c.Auth.JWTSecret != "" {
		cfg.JWT = auth.NewJWTManager(c.Auth.JWTSecret, c.Auth.AccessExpiry)
	}
	return cfg
}

func newLedgerPublisher(c *infra.KafkaConfig, logger log.Logger) (biz.LedgerEventPublisher, func(), error) {
	return infra.NewLedgerPublisher(*c, logger)
}

func newEngineClient(c *infra.EngineConfig, logger log.Logger) biz.ExecutionEngine {
	return infra.NewEngineClient(*c, logger)
}

func newExecutionLogger(repo *data.ExecutionLogRepo) biz.ExecutionLogger {
	if repo == nil {
		return nil
	}
	return repo
}

// newHeartbeatConsumer 未配置心跳 topic 时返回 nil
func newHeartbeatConsumer(c *infra.KafkaConfig, registry *biz.WorkerRegistry, logger log.Logger) *infra.HeartbeatConsumer {
	if !c.Enabled() || c.HeartbeatTopic == "" {
		return nil
	}
	return infra.NewHeartbeatConsumer(*c, registry, logger)
}

// newPolicyEngine 创建策略引擎并写入种子策略
func newPolicyEngine(c *Config, repo domain.PolicyRepository, logger log.Logger) (*biz.PolicyEngine, error) {
	engine := biz.NewPolicyEngine(repo, logger)
	if c.Router.PolicySeedFile == "" {
		return engine, nil
	}
	seeds, err := data.LoadPolicySeeds(c.Router.PolicySeedFile)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Seed(ctx, seeds); err != nil {
		return nil, err
	}
	return engine, nil
}

func newWalletUsecase(
	wallets domain.WalletRepository,
	ledger domain.LedgerRepository,
	policies *biz.PolicyEngine,
	events biz.LedgerEventPublisher,
	logger log.Logger,
) *biz.WalletUsecase {
	return biz.NewWalletUsecase(wallets, ledger, policies, events, logger)
}

func newWorkerRegistry(c *Config, repo domain.WorkerRepository, logger log.Logger) *biz.WorkerRegistry {
	return biz.NewWorkerRegistry(repo, c.Router.StaleAfter, logger)
}

func newDispatcher(
	c *Config,
	wallets *biz.WalletUsecase,
	policies *biz.PolicyEngine,
	registry *biz.WorkerRegistry,
	router *biz.RoutingSelector,
	executions domain.ExecutionRepository,
	engine biz.ExecutionEngine,
	execLog *data.ExecutionLogRepo,
	logger log.Logger,
) *biz.Dispatcher {
	return biz.NewDispatcher(wallets, policies, registry, router, executions, engine, newExecutionLogger(execLog),
		biz.DispatcherConfig{
			DefaultStrategy:   domain.RoutingStrategy(c.Router.DefaultStrategy),
			DefaultMinReserve: c.Router.DefaultMinReserve,
			RefundOnFailure:   c.Router.RefundOnFailure,
			ExecutionTimeout:  c.Router.ExecutionTimeout,
		}, logger)
}

func newHealthMonitor(c *Config, repo domain.WorkerRepository, logger log.Logger) *biz.HealthMonitor {
	return biz.NewHealthMonitor(repo, c.Router.HealthCheckInterval, c.Router.StaleAfter, logger)
}

func newAllocationScheduler(c *Config, wallets domain.WalletRepository, usecase *biz.WalletUsecase, logger log.Logger) *biz.AllocationScheduler {
	return biz.NewAllocationScheduler(wallets, usecase, c.Router.AllocationInterval, logger)
}
