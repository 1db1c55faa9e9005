package service

import (
	"time"

	"tokenrouter/cmd/token-router/internal/domain"
)

// PolicyReply 分配策略
type PolicyReply struct {
	ID                  string `json:"id"`
	LevelID             string `json:"level_id,omitempty"`
	UserID              string `json:"user_id,omitempty"`
	BaseAllocation      int64  `json:"base_allocation"`
	MonthlyAllocation   int64  `json:"monthly_allocation"`
	MonthlyCap          int64  `json:"monthly_cap"`
	RolloverPercent     int    `json:"rollover_percent"`
	AllocationMode      string `json:"allocation_mode"`
	EnforcementMode     string `json:"enforcement_mode"`
	PriorityWeight      int    `json:"priority_weight"`
	MinExecutionReserve int64  `json:"min_execution_reserve"`
}

// PolicyRequest 创建或更新策略
type PolicyRequest struct {
	LevelID             string `json:"level_id"`
	UserID              string `json:"user_id"`
	BaseAllocation      int64  `json:"base_allocation"`
	MonthlyAllocation   int64  `json:"monthly_allocation"`
	MonthlyCap          int64  `json:"monthly_cap"`
	RolloverPercent     int    `json:"rollover_percent"`
	AllocationMode      string `json:"allocation_mode"`
	EnforcementMode     string `json:"enforcement_mode"`
	PriorityWeight      int    `json:"priority_weight"`
	MinExecutionReserve int64  `json:"min_execution_reserve"`
}

// WalletReply 钱包快照
type WalletReply struct {
	ID                      string       `json:"id"`
	UserID                  string       `json:"user_id"`
	TenantID                string       `json:"tenant_id"`
	LevelID                 string       `json:"level_id"`
	Status                  string       `json:"status"`
	CurrentTokens           int64        `json:"current_tokens"`
	ReservedTokens          int64        `json:"reserved_tokens"`
	AvailableTokens         int64        `json:"available_tokens"`
	LifetimeTokens          int64        `json:"lifetime_tokens"`
	BorrowedTokens          int64        `json:"borrowed_tokens"`
	MonthlyAllocationTokens int64        `json:"monthly_allocation_tokens"`
	LastResetAt             *time.Time   `json:"last_reset_at,omitempty"`
	NextResetAt             *time.Time   `json:"next_reset_at,omitempty"`
	UpdatedAt               time.Time    `json:"updated_at"`
	Policy                  *PolicyReply `json:"policy,omitempty"`
}

// LedgerEntryReply 账本记录
type LedgerEntryReply struct {
	ID            string            `json:"id"`
	Sequence      int64             `json:"sequence"`
	Direction     string            `json:"direction"`
	Amount        int64             `json:"amount"`
	BalanceAfter  int64             `json:"balance_after"`
	LifetimeAfter int64             `json:"lifetime_after"`
	BorrowedAfter int64             `json:"borrowed_after"`
	Reason        string            `json:"reason"`
	Source        string            `json:"source"`
	ReferenceType string            `json:"reference_type,omitempty"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// LedgerReply 账本分页
type LedgerReply struct {
	Entries []*LedgerEntryReply `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// AdjustRequest 手工调整
type AdjustRequest struct {
	Amount        int64             `json:"amount"`
	Direction     string            `json:"direction"`
	Reason        string            `json:"reason"`
	ReferenceType string            `json:"reference_type"`
	ReferenceID   string            `json:"reference_id"`
	Metadata      map[string]string `json:"metadata"`
}

// RegisterWorkerRequest 节点注册
type RegisterWorkerRequest struct {
	WorkerID   string   `json:"worker_id"`
	TenantID   string   `json:"tenant_id"`
	WorkerType string   `json:"worker_type"`
	Capacity   int      `json:"capacity"`
	Region     string   `json:"region"`
	Tags       []string `json:"tags"`
}

// WorkerReply 节点
type WorkerReply struct {
	WorkerID      string    `json:"worker_id"`
	TenantID      string    `json:"tenant_id"`
	WorkerType    string    `json:"worker_type"`
	Capacity      int       `json:"capacity"`
	CurrentLoad   int       `json:"current_load"`
	LoadPercent   float64   `json:"load_percent"`
	HealthScore   int       `json:"health_score"`
	Status        string    `json:"status"`
	Region        string    `json:"region,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Stale         bool      `json:"stale"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// AvailableWorkersRequest 可用节点查询
type AvailableWorkersRequest struct {
	TenantID       string  `form:"tenant_id"`
	WorkerType     string  `form:"worker_type"`
	Region         string  `form:"region"`
	MinHealthScore *int     `form:"min_health_score"`
	MaxLoadPercent *float64 `form:"max_load_percent"`
}

// DispatchRequest 执行请求
type DispatchRequest struct {
	LevelID         string                 `json:"level_id"`
	Strategy        string                 `json:"strategy"`
	WorkerType      string                 `json:"worker_type"`
	Region          string                 `json:"region"`
	MinHealthScore  *int                   `json:"min_health_score"`
	MaxLoadPercent  *float64               `json:"max_load_percent"`
	EstimatedTokens int64                  `json:"estimated_tokens"`
	Payload         map[string]interface{} `json:"payload"`
	Async           bool                   `json:"async"`
}

// ExecutionReply 执行记录
type ExecutionReply struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	WorkerID        string     `json:"worker_id"`
	Strategy        string     `json:"strategy"`
	Status          string     `json:"status"`
	EstimatedTokens int64      `json:"estimated_tokens"`
	TokensConsumed  int64      `json:"tokens_consumed"`
	OutputSummary   string     `json:"output_summary,omitempty"`
	Error           string     `json:"error,omitempty"`
	LedgerEntryID   string     `json:"ledger_entry_id,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func toPolicyReply(p *domain.AllocationPolicy) *PolicyReply {
	if p == nil {
		return nil
	}
	return &PolicyReply{
		ID:                  p.ID,
		LevelID:             p.LevelID,
		UserID:              p.UserID,
		BaseAllocation:      p.BaseAllocation,
		MonthlyAllocation:   p.MonthlyAllocation,
		MonthlyCap:          p.MonthlyCap,
		RolloverPercent:     p.RolloverPercent,
		AllocationMode:      string(p.AllocationMode),
		EnforcementMode:     string(p.EnforcementMode),
		PriorityWeight:      p.PriorityWeight,
		MinExecutionReserve: p.MinExecutionReserve,
	}
}

func (r *PolicyRequest) toDomain() *domain.AllocationPolicy {
	return &domain.AllocationPolicy{
		LevelID:             r.LevelID,
		UserID:              r.UserID,
		BaseAllocation:      r.BaseAllocation,
		MonthlyAllocation:   r.MonthlyAllocation,
		MonthlyCap:          r.MonthlyCap,
		RolloverPercent:     r.RolloverPercent,
		AllocationMode:      domain.AllocationMode(r.AllocationMode),
		EnforcementMode:     domain.EnforcementMode(r.EnforcementMode),
		PriorityWeight:      r.PriorityWeight,
		MinExecutionReserve: r.MinExecutionReserve,
	}
}

func toWalletReply(w *domain.Wallet, p *domain.AllocationPolicy) *WalletReply {
	return &WalletReply{
		ID:                      w.ID,
		UserID:                  w.UserID,
		TenantID:                w.TenantID,
		LevelID:                 w.LevelID,
		Status:                  string(w.Status),
		CurrentTokens:           w.CurrentTokens,
		ReservedTokens:          w.ReservedTokens,
		AvailableTokens:         w.Available(),
		LifetimeTokens:          w.LifetimeTokens,
		BorrowedTokens:          w.BorrowedTokens,
		MonthlyAllocationTokens: w.MonthlyAllocationTokens,
		LastResetAt:             w.LastResetAt,
		NextResetAt:             w.NextResetAt,
		UpdatedAt:               w.UpdatedAt,
		Policy:                  toPolicyReply(p),
	}
}

func toLedgerEntryReply(e *domain.LedgerEntry) *LedgerEntryReply {
	return &LedgerEntryReply{
		ID:            e.ID,
		Sequence:      e.Sequence,
		Direction:     string(e.Direction),
		Amount:        e.Amount,
		BalanceAfter:  e.BalanceAfter,
		LifetimeAfter: e.LifetimeAfter,
		BorrowedAfter: e.BorrowedAfter,
		Reason:        e.Reason,
		Source:        string(e.Source),
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
	}
}

func toWorkerReply(w *domain.Worker, stale bool) *WorkerReply {
	return &WorkerReply{
		WorkerID:      w.WorkerID,
		TenantID:      w.TenantID,
		WorkerType:    w.WorkerType,
		Capacity:      w.Capacity,
		CurrentLoad:   w.CurrentLoad,
		LoadPercent:   w.LoadPercent(),
		HealthScore:   w.HealthScore,
		Status:        string(w.Status),
		Region:        w.Region,
		Tags:          w.Tags,
		Stale:         stale,
		LastHeartbeat: w.LastHeartbeat,
	}
}

func toExecutionReply(e *domain.Execution) *ExecutionReply {
	return &ExecutionReply{
		ID:              e.ID,
		UserID:          e.UserID,
		WorkerID:        e.WorkerID,
		Strategy:        string(e.Strategy),
		Status:          string(e.Status),
		EstimatedTokens: e.EstimatedTokens,
		TokensConsumed:  e.TokensConsumed,
		OutputSummary:   e.OutputSummary,
		Error:           e.Error,
		LedgerEntryID:   e.LedgerEntryID,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
	}
}
