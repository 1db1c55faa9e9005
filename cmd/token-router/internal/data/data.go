package data

import (
	"context"
	"fmt"

	"tokenrouter/cmd/token-router/internal/domain"
	"tokenrouter/pkg/database"
	"tokenrouter/pkg/health"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config 数据层配置
type Config struct {
	Driver      string           `mapstructure:"driver"`
	Database    database.Config  `mapstructure:"database"`
	AutoMigrate bool             `mapstructure:"auto_migrate"`
	Redis       RedisConfig      `mapstructure:"redis"`
	ClickHouse  ClickHouseConfig `mapstructure:"clickhouse"`
}

// Data 数据访问层。driver=memory 时 db 为空，使用进程内存储。
type Data struct {
	db  *gorm.DB
	rdb *redis.Client

	wallets    *MemoryWalletStore
	policies   *MemoryPolicyStore
	workers    *MemoryWorkerStore
	executions *MemoryExecutionStore
	routing    *MemoryRoutingMetrics
}

// NewData 创建Data实例
func NewData(c *Config, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data"))
	d := &Data{}
	var cleanups []func()

	switch c.Driver {
	case DriverMemory:
		helper.Warn("using in-memory storage, state is lost on restart")
		d.wallets = NewMemoryWalletStore()
		d.policies = NewMemoryPolicyStore()
		d.workers = NewMemoryWorkerStore()
		d.executions = NewMemoryExecutionStore()
	case DriverPostgres, "":
		db, err := database.NewDB(&c.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		if c.AutoMigrate {
			if err := Migrate(db); err != nil {
				return nil, nil, err
			}
			helper.Info("database schema migrated")
		}
		d.db = db
		cleanups = append(cleanups, func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				sqlDB.Close()
			}
		})
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %s", c.Driver)
	}

	if c.Redis.Addr != "" {
		rdb, closeRedis, err := NewRedis(&c.Redis, logger)
		if err != nil {
			for _, fn := range cleanups {
				fn()
			}
			return nil, nil, err
		}
		d.rdb = rdb
		cleanups = append(cleanups, closeRedis)
	} else {
		helper.Warn("redis not configured, routing metrics kept in memory")
		d.routing = NewMemoryRoutingMetrics()
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return d, cleanup, nil
}

// Migrate 自动建表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&WalletPO{},
		&LedgerEntryPO{},
		&AllocationPolicyPO{},
		&WorkerPO{},
		&ExecutionPO{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// NewWalletRepo 创建钱包仓储
func NewWalletRepo(d *Data, logger log.Logger) domain.WalletRepository {
	if d.db == nil {
		return d.wallets
	}
	return newWalletRepo(d.db, logger)
}

// NewLedgerRepo 创建账本仓储
func NewLedgerRepo(d *Data, logger log.Logger) domain.LedgerRepository {
	if d.db == nil {
		return d.wallets
	}
	return newLedgerRepo(d.db, logger)
}

// NewPolicyRepo 创建策略仓储
func NewPolicyRepo(d *Data, logger log.Logger) domain.PolicyRepository {
	if d.db == nil {
		return d.policies
	}
	return newPolicyRepo(d.db, logger)
}

// NewWorkerRepo 创建节点仓储
func NewWorkerRepo(d *Data, logger log.Logger) domain.WorkerRepository {
	if d.db == nil {
		return d.workers
	}
	return newWorkerRepo(d.db, logger)
}

// NewExecutionRepo 创建执行记录仓储
func NewExecutionRepo(d *Data, logger log.Logger) domain.ExecutionRepository {
	if d.db == nil {
		return d.executions
	}
	return newExecutionRepo(d.db, logger)
}

// NewRoutingMetricsRepo 创建路由计数仓储
func NewRoutingMetricsRepo(d *Data, logger log.Logger) domain.RoutingMetricsRepository {
	if d.rdb == nil {
		return d.routing
	}
	return newRoutingMetricsRepo(d.rdb, logger)
}

// Redis 返回 Redis 客户端，未配置时为 nil
func (d *Data) Redis() *redis.Client {
	return d.rdb
}

// HealthCheckers 存储连通性检查，供 /ready 使用
func (d *Data) HealthCheckers() []health.Checker {
	var checkers []health.Checker
	if d.db != nil {
		checkers = append(checkers, health.NewPingChecker("postgres", func(ctx context.Context) error {
			sqlDB, err := d.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}
	if d.rdb != nil {
		checkers = append(checkers, health.NewPingChecker("redis", func(ctx context.Context) error {
			return d.rdb.Ping(ctx).Err()
		}))
	}
	return checkers
}
