package data

import (
	"context"
	"errors"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllocationPolicyPO 分配策略持久化对象
type AllocationPolicyPO struct {
	ID                  string `gorm:"primaryKey;size:64"`
	LevelID             string `gorm:"size:64;index:idx_policy_level"`
	UserID              string `gorm:"size:64;index:idx_policy_user"`
	ScopeKey            string `gorm:"size:140;not null;uniqueIndex:idx_policy_scope"`
	BaseAllocation      int64  `gorm:"not null;default:0"`
	MonthlyAllocation   int64  `gorm:"not null;default:0"`
	MonthlyCap          int64  `gorm:"not null;default:0"`
	RolloverPercent     int    `gorm:"not null;default:0"`
	AllocationMode      string `gorm:"size:20;not null"`
	EnforcementMode     string `gorm:"size:20;not null"`
	PriorityWeight      int    `gorm:"not null;default:1"`
	MinExecutionReserve int64  `gorm:"not null;default:0"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TableName 表名
func (AllocationPolicyPO) TableName() string {
	return "allocation_policies"
}

type policyRepo struct {
	db  *gorm.DB
	log *log.Helper
}

func newPolicyRepo(db *gorm.DB, logger log.Logger) *policyRepo {
	return &policyRepo{db: db, log: log.NewHelper(log.With(logger, "module", "data/policy"))}
}

// GetByUserID 获取用户覆盖策略
func (r *policyRepo) GetByUserID(ctx context.Context, userID string) (*domain.AllocationPolicy, error) {
	return r.first(ctx, "scope_key = ?", "user:"+userID)
}

// GetByLevelID 获取等级策略
func (r *policyRepo) GetByLevelID(ctx context.Context, levelID string) (*domain.AllocationPolicy, error) {
	return r.first(ctx, "scope_key = ?", "level:"+levelID)
}

func (r *policyRepo) first(ctx context.Context, query string, args ...interface{}) (*domain.AllocationPolicy, error) {
	var po AllocationPolicyPO
	if err := r.db.WithContext(ctx).Where(query, args...).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, err
	}
	return po.toDomain(), nil
}

// Upsert 按作用域新增或覆盖策略
func (r *policyRepo) Upsert(ctx context.Context, policy *domain.AllocationPolicy) error {
	po := toPolicyPO(policy)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"base_allocation", "monthly_allocation", "monthly_cap", "rollover_percent",
			"allocation_mode", "enforcement_mode", "priority_weight", "min_execution_reserve", "updated_at",
		}),
	}).Create(po).Error
	if err != nil {
		r.log.WithContext(ctx).Errorf("failed to upsert policy %s: %v", po.ScopeKey, err)
		return err
	}
	return nil
}

// List 列出所有策略
func (r *policyRepo) List(ctx context.Context) ([]*domain.AllocationPolicy, error) {
	var pos []AllocationPolicyPO
	if err := r.db.WithContext(ctx).Order("scope_key ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.AllocationPolicy, 0, len(pos))
	for i := range pos {
		out = append(out, pos[i].toDomain())
	}
	return out, nil
}

func toPolicyPO(p *domain.AllocationPolicy) *AllocationPolicyPO {
	scope := "level:" + p.LevelID
	if p.UserID != "" {
		scope = "user:" + p.UserID
	}
	return &AllocationPolicyPO{
		ID:                  p.ID,
		LevelID:             p.LevelID,
		UserID:              p.UserID,
		ScopeKey:            scope,
		BaseAllocation:      p.BaseAllocation,
		MonthlyAllocation:   p.MonthlyAllocation,
		MonthlyCap:          p.MonthlyCap,
		RolloverPercent:     p.RolloverPercent,
		AllocationMode:      string(p.AllocationMode),
		EnforcementMode:     string(p.EnforcementMode),
		PriorityWeight:      p.PriorityWeight,
		MinExecutionReserve: p.MinExecutionReserve,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func (po *AllocationPolicyPO) toDomain() *domain.AllocationPolicy {
	return &domain.AllocationPolicy{
		ID:                  po.ID,
		LevelID:             po.LevelID,
		UserID:              po.UserID,
		BaseAllocation:      po.BaseAllocation,
		MonthlyAllocation:   po.MonthlyAllocation,
		MonthlyCap:          po.MonthlyCap,
		RolloverPercent:     po.RolloverPercent,
		AllocationMode:      domain.AllocationMode(po.AllocationMode),
		EnforcementMode:     domain.EnforcementMode(po.EnforcementMode),
		PriorityWeight:      po.PriorityWeight,
		MinExecutionReserve: po.MinExecutionReserve,
		CreatedAt:           po.CreatedAt,
		UpdatedAt:           po.UpdatedAt,
	}
}
