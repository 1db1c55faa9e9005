package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus 执行状态
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution 一次计费执行，归调度器所有
type Execution struct {
	ID              string
	UserID          string
	TenantID        string
	WalletID        string
	WorkerID        string
	Strategy        RoutingStrategy
	Status          ExecutionStatus
	Payload         map[string]interface{}
	EstimatedTokens int64
	TokensConsumed  int64
	OutputSummary   string
	Error           string
	LedgerEntryID   string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// NewExecution 创建运行中的执行记录
func NewExecution(wallet *Wallet, worker *Worker, strategy RoutingStrategy, payload map[string]interface{}, estimate int64) *Execution {
	return &Execution{
		ID:              "exec_" + uuid.New().String(),
		UserID:          wallet.UserID,
		TenantID:        wallet.TenantID,
		WalletID:        wallet.ID,
		WorkerID:        worker.WorkerID,
		Strategy:        strategy,
		Status:          ExecutionRunning,
		Payload:         payload,
		EstimatedTokens: estimate,
		StartedAt:       time.Now().UTC(),
	}
}

// Complete 标记完成
func (e *Execution) Complete(result *EngineResult, now time.Time) {
	e.TokensConsumed = result.TokensConsumed
	e.OutputSummary = result.OutputSummary
	if result.Success {
		e.Status = ExecutionSucceeded
	} else {
		e.Status = ExecutionFailed
		e.Error = result.Error
	}
	e.CompletedAt = &now
}

// Fail 标记失败（执行引擎调用本身出错）
func (e *Execution) Fail(err error, consumed int64, now time.Time) {
	e.Status = ExecutionFailed
	e.TokensConsumed = consumed
	if err != nil {
		e.Error = err.Error()
	}
	e.CompletedAt = &now
}

// IsDone 是否已结束
func (e *Execution) IsDone() bool {
	return e.Status != ExecutionRunning
}

// Duration 执行耗时
func (e *Execution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// EngineRequest 发往执行引擎的请求
type EngineRequest struct {
	ExecutionID string                 `json:"execution_id"`
	WorkerID    string                 `json:"worker_id"`
	TenantID    string                 `json:"tenant_id"`
	UserID      string                 `json:"user_id"`
	Payload     map[string]interface{} `json:"payload"`
}

// EngineResult 执行引擎返回的结果
type EngineResult struct {
	Success        bool   `json:"success"`
	TokensConsumed int64  `json:"tokens_consumed"`
	OutputSummary  string `json:"output_summary"`
	Error          string `json:"error,omitempty"`
}

// Clone 返回副本
func (e *Execution) Clone() *Execution {
	c := *e
	if e.Payload != nil {
		c.Payload = make(map[string]interface{}, len(e.Payload))
		for k, v := range e.Payload {
			c.Payload[k] = v
		}
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
