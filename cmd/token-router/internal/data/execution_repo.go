package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// ExecutionPO 执行记录持久化对象
type ExecutionPO struct {
	ID              string `gorm:"primaryKey;size:64"`
	UserID          string `gorm:"size:64;not null;index:idx_executions_user"`
	TenantID        string `gorm:"size:64;not null"`
	WalletID        string `gorm:"size:64;not null"`
	WorkerID        string `gorm:"size:128;not null;index:idx_executions_worker"`
	Strategy        string `gorm:"size:32;not null"`
	Status          string `gorm:"size:20;not null;index:idx_executions_status"`
	Payload         string `gorm:"type:jsonb"`
	EstimatedTokens int64
	TokensConsumed  int64
	OutputSummary   string `gorm:"type:text"`
	Error           string `gorm:"type:text"`
	LedgerEntryID   string `gorm:"size:64"`
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// TableName 表名
func (ExecutionPO) TableName() string {
	return "executions"
}

type executionRepo struct {
	db  *gorm.DB
	log *log.Helper
}

func newExecutionRepo(db *gorm.DB, logger log.Logger) *executionRepo {
	return &executionRepo{db: db, log: log.NewHelper(log.With(logger, "module", "data/execution"))}
}

// Create 保存执行记录
func (r *executionRepo) Create(ctx context.Context, execution *domain.Execution) error {
	po, err := toExecutionPO(execution)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(po).Error
}

// Update 更新执行记录
func (r *executionRepo) Update(ctx context.Context, execution *domain.Execution) error {
	po, err := toExecutionPO(execution)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&ExecutionPO{}).
		Where("id = ?", execution.ID).
		Select("status", "tokens_consumed", "output_summary", "error", "ledger_entry_id", "completed_at").
		Updates(po)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}

// Get 获取执行记录
func (r *executionRepo) Get(ctx context.Context, id string) (*domain.Execution, error) {
	var po ExecutionPO
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, err
	}
	return po.toDomain(), nil
}

func toExecutionPO(e *domain.Execution) (*ExecutionPO, error) {
	payload := "{}"
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal execution payload: %w", err)
		}
		payload = string(b)
	}
	return &ExecutionPO{
		ID:              e.ID,
		UserID:          e.UserID,
		TenantID:        e.TenantID,
		WalletID:        e.WalletID,
		WorkerID:        e.WorkerID,
		Strategy:        string(e.Strategy),
		Status:          string(e.Status),
		Payload:         payload,
		EstimatedTokens: e.EstimatedTokens,
		TokensConsumed:  e.TokensConsumed,
		OutputSummary:   e.OutputSummary,
		Error:           e.Error,
		LedgerEntryID:   e.LedgerEntryID,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
	}, nil
}

func (po *ExecutionPO) toDomain() *domain.Execution {
	var payload map[string]interface{}
	if po.Payload != "" {
		_ = json.Unmarshal([]byte(po.Payload), &payload)
	}
	return &domain.Execution{
		ID:              po.ID,
		UserID:          po.UserID,
		TenantID:        po.TenantID,
		WalletID:        po.WalletID,
		WorkerID:        po.WorkerID,
		Strategy:        domain.RoutingStrategy(po.Strategy),
		Status:          domain.ExecutionStatus(po.Status),
		Payload:         payload,
		EstimatedTokens: po.EstimatedTokens,
		TokensConsumed:  po.TokensConsumed,
		OutputSummary:   po.OutputSummary,
		Error:           po.Error,
		LedgerEntryID:   po.LedgerEntryID,
		StartedAt:       po.StartedAt,
		CompletedAt:     po.CompletedAt,
	}
}
