package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// PolicyEngine 分配策略引擎
type PolicyEngine struct {
	repo domain.PolicyRepository
	log  *log.Helper
}

// NewPolicyEngine 创建分配策略引擎
func NewPolicyEngine(repo domain.PolicyRepository, logger log.Logger) *PolicyEngine {
	return &PolicyEngine{
		repo: repo,
		log:  log.NewHelper(log.With(logger, "module", "policy-engine")),
	}
}

// GetPolicyFor 获取用户生效的策略：用户覆盖优先于等级策略。
// 没有任何策略时返回 nil, nil。
func (e *PolicyEngine) GetPolicyFor(ctx context.Context, userID, levelID string) (*domain.AllocationPolicy, error) {
	if userID != "" {
		p, err := e.repo.GetByUserID(ctx, userID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrPolicyNotFound) {
			return nil, fmt.Errorf("get user policy: %w", err)
		}
	}

	if levelID == "" {
		return nil, nil
	}

	p, err := e.repo.GetByLevelID(ctx, levelID)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			e.log.WithContext(ctx).Debugf("no allocation policy for user=%s level=%s", userID, levelID)
			return nil, nil
		}
		return nil, fmt.Errorf("get level policy: %w", err)
	}
	return p, nil
}

// ApplyPeriodRollover 计算钱包在 now 时刻的结转计划
func (e *PolicyEngine) ApplyPeriodRollover(wallet *domain.Wallet, policy *domain.AllocationPolicy, now time.Time) domain.RolloverPlan {
	return domain.PlanRollover(wallet, policy, now)
}

// UpsertPolicy 新增或更新策略
func (e *PolicyEngine) UpsertPolicy(ctx context.Context, policy *domain.AllocationPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	if err := e.repo.Upsert(ctx, policy); err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

// ListPolicies 列出所有策略
func (e *PolicyEngine) ListPolicies(ctx context.Context) ([]*domain.AllocationPolicy, error) {
	return e.repo.List(ctx)
}

// Seed 批量写入初始策略
func (e *PolicyEngine) Seed(ctx context.Context, policies []*domain.AllocationPolicy) error {
	for _, p := range policies {
		if err := e.UpsertPolicy(ctx, p); err != nil {
			return fmt.Errorf("seed policy level=%q user=%q: %w", p.LevelID, p.UserID, err)
		}
	}
	e.log.Infof("seeded %d allocation policies", len(policies))
	return nil
}
