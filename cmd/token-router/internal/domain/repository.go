package domain

import (
	"context"
	"time"
)

// WalletMutation 在钱包行锁内执行的修改，返回需要追加的账本记录
type WalletMutation func(w *Wallet) ([]*LedgerEntry, error)

// WalletRepository 钱包仓储接口
type WalletRepository interface {
	// Create 创建钱包并写入初始账本记录；用户已有钱包时返回 ErrWalletExists
	Create(ctx context.Context, wallet *Wallet, entries []*LedgerEntry) error

	// GetByUserID 根据用户获取钱包快照
	GetByUserID(ctx context.Context, userID string) (*Wallet, error)

	// Mutate 锁定钱包，执行 fn，并在同一原子单元内持久化投影与账本。
	// fn 返回错误时不做任何写入。
	Mutate(ctx context.Context, userID string, fn WalletMutation) (*Wallet, []*LedgerEntry, error)

	// ListDueForReset 获取到达重置时间的钱包
	ListDueForReset(ctx context.Context, now time.Time, limit int) ([]*Wallet, error)
}

// LedgerRepository 账本仓储接口（只读，写入经由 WalletRepository）
type LedgerRepository interface {
	// ListByWallet 分页获取账本，按序号倒序
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]*LedgerEntry, error)

	// ListAll 获取全部账本，按序号升序
	ListAll(ctx context.Context, walletID string) ([]*LedgerEntry, error)
}

// PolicyRepository 分配策略仓储接口
type PolicyRepository interface {
	GetByUserID(ctx context.Context, userID string) (*AllocationPolicy, error)
	GetByLevelID(ctx context.Context, levelID string) (*AllocationPolicy, error)
	Upsert(ctx context.Context, policy *AllocationPolicy) error
	List(ctx context.Context) ([]*AllocationPolicy, error)
}

// WorkerRepository 执行节点仓储接口。每个方法只做单节点的原子字段更新。
type WorkerRepository interface {
	// Upsert 注册或刷新节点，保留已有的健康分、状态与负载
	Upsert(ctx context.Context, worker *Worker) (*Worker, error)

	Get(ctx context.Context, workerID string) (*Worker, error)

	// Touch 只更新心跳时间
	Touch(ctx context.Context, workerID string, at time.Time) error

	UpdateHealth(ctx context.Context, workerID string, score int, status WorkerStatus, at time.Time) (*Worker, error)
	UpdateStatus(ctx context.Context, workerID string, status WorkerStatus, at time.Time) (*Worker, error)
	SetLoad(ctx context.Context, workerID string, load int, at time.Time) (*Worker, error)

	// AdjustLoad 增减负载，结果不低于0
	AdjustLoad(ctx context.Context, workerID string, delta int, at time.Time) error

	List(ctx context.Context, filter WorkerFilter) ([]*Worker, error)
}

// ExecutionRepository 执行记录仓储接口
type ExecutionRepository interface {
	Create(ctx context.Context, execution *Execution) error
	Update(ctx context.Context, execution *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
}

// RoutingMetricsRepository 路由计数仓储接口
type RoutingMetricsRepository interface {
	Increment(ctx context.Context, workerID string, strategy RoutingStrategy) error
	Get(ctx context.Context, workerID string) (*RoutingMetrics, error)
}
