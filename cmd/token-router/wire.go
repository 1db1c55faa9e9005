//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"tokenrouter/cmd/token-router/internal/biz"
	"tokenrouter/cmd/token-router/internal/data"
	"tokenrouter/cmd/token-router/internal/server"
	"tokenrouter/cmd/token-router/internal/service"
	"tokenrouter/pkg/auth"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*Config, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		// Config
		configSet,

		// Data layer
		data.NewData,
		data.NewWalletRepo,
		data.NewLedgerRepo,
		data.NewPolicyRepo,
		data.NewWorkerRepo,
		data.NewExecutionRepo,
		data.NewRoutingMetricsRepo,
		data.NewExecutionLogRepo,
		newRedisClient,
		newReadinessChecker,

		// Infra
		newLedgerPublisher,
		newEngineClient,
		newHeartbeatConsumer,

		// Business logic layer
		newPolicyEngine,
		newWalletUsecase,
		newWorkerRegistry,
		biz.NewRoutingSelector,
		newDispatcher,
		newHealthMonitor,
		newAllocationScheduler,

		// Service layer
		auth.NewRBACManager,
		service.NewTokenService,

		// Server layer
		newIdentityConfig,
		server.NewHealthServer,
		server.NewHTTPServer,
		server.NewGRPCServer,
		server.NewConsulRegistry,

		// App
		newApp,
	))
}

var configSet = wire.NewSet(
	newServerConf,
	newHTTPConfig,
	newGRPCConfig,
	newDataConfig,
	newKafkaConfig,
	newEngineConfig,
	newRegistryConfig,
)
