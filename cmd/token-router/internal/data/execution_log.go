package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-kratos/kratos/v2/log"
)

// ClickHouseConfig ClickHouse配置
type ClickHouseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Debug    bool   `mapstructure:"debug"`
}

// ExecutionLogRepo 执行日志分析库（ClickHouse）
type ExecutionLogRepo struct {
	conn driver.Conn
	log  *log.Helper
}

// NewExecutionLogRepo 创建执行日志仓储；未启用时返回 nil
func NewExecutionLogRepo(c *Config, logger log.Logger) (*ExecutionLogRepo, func(), error) {
	cfg := c.ClickHouse
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	helper := log.NewHelper(log.With(logger, "module", "data/execution-log"))

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		DialTimeout:  5 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	repo := &ExecutionLogRepo{conn: conn, log: helper}
	if err := repo.initTables(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to init tables: %w", err)
	}

	helper.Info("clickhouse execution log initialized")
	cleanup := func() {
		if err := conn.Close(); err != nil {
			helper.Errorf("failed to close clickhouse: %v", err)
		}
	}
	return repo, cleanup, nil
}

func (r *ExecutionLogRepo) initTables(ctx context.Context) error {
	if err := r.conn.Exec(ctx, `CREATE DATABASE IF NOT EXISTS token_router`); err != nil {
		return err
	}
	return r.conn.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS token_router.execution_logs (
		execution_id String,
		tenant_id String,
		user_id String,
		wallet_id String,
		worker_id String,
		strategy LowCardinality(String),
		status LowCardinality(String),

		estimated_tokens Int64,
		tokens_consumed Int64,
		ledger_entry_id String,

		started_at DateTime64(3),
		completed_at DateTime64(3),
		duration_ms UInt32,

		error_message String,
		payload String
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(started_at)
	ORDER BY (tenant_id, started_at, execution_id)
	TTL toDateTime(started_at) + INTERVAL 180 DAY
	`)
}

// LogExecution 写入一条执行日志，未启用时为空操作
func (r *ExecutionLogRepo) LogExecution(ctx context.Context, e *domain.Execution) error {
	if r == nil {
		return nil
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	completed := e.StartedAt
	if e.CompletedAt != nil {
		completed = *e.CompletedAt
	}

	return r.conn.Exec(ctx, `
	INSERT INTO token_router.execution_logs (
		execution_id, tenant_id, user_id, wallet_id, worker_id, strategy, status,
		estimated_tokens, tokens_consumed, ledger_entry_id,
		started_at, completed_at, duration_ms,
		error_message, payload
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.TenantID, e.UserID, e.WalletID, e.WorkerID, string(e.Strategy), string(e.Status),
		e.EstimatedTokens, e.TokensConsumed, e.LedgerEntryID,
		e.StartedAt, completed, uint32(e.Duration().Milliseconds()),
		e.Error, string(payload),
	)
}

// Ping 检查 ClickHouse 连通性
func (r *ExecutionLogRepo) Ping(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.conn.Ping(ctx)
}
