package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AllocationMode 发放周期
type AllocationMode string

const (
	AllocationMonthly AllocationMode = "monthly"
	AllocationWeekly  AllocationMode = "weekly"
	AllocationDaily   AllocationMode = "daily"
	AllocationManual  AllocationMode = "manual" // 不自动发放
)

// EnforcementMode 余额不足时的处理方式
type EnforcementMode string

const (
	EnforcementStrict EnforcementMode = "strict" // 直接拒绝
	EnforcementSoft   EnforcementMode = "soft"   // 允许透支并打标
)

// AllocationPolicy 分配策略（按等级或按用户覆盖）
type AllocationPolicy struct {
	ID                  string
	LevelID             string
	UserID              string
	BaseAllocation      int64
	MonthlyAllocation   int64
	MonthlyCap          int64 // 周期发放后的余额上限，0 表示不限
	RolloverPercent     int
	AllocationMode      AllocationMode
	EnforcementMode     EnforcementMode
	PriorityWeight      int
	MinExecutionReserve int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewLevelPolicy 创建等级策略
func NewLevelPolicy(levelID string) *AllocationPolicy {
	now := time.Now().UTC()
	return &AllocationPolicy{
		ID:              uuid.New().String(),
		LevelID:         levelID,
		AllocationMode:  AllocationMonthly,
		EnforcementMode: EnforcementStrict,
		PriorityWeight:  1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Validate 校验策略
func (p *AllocationPolicy) Validate() error {
	if (p.LevelID == "") == (p.UserID == "") {
		return fmt.Errorf("%w: exactly one of level_id and user_id is required", ErrInvalidPolicy)
	}
	if p.BaseAllocation < 0 || p.MonthlyAllocation < 0 || p.MonthlyCap < 0 || p.MinExecutionReserve < 0 {
		return fmt.Errorf("%w: allocations must not be negative", ErrInvalidPolicy)
	}
	if p.RolloverPercent < 0 || p.RolloverPercent > 100 {
		return fmt.Errorf("%w: rollover_percent must be within 0-100", ErrInvalidPolicy)
	}
	switch p.AllocationMode {
	case AllocationMonthly, AllocationWeekly, AllocationDaily, AllocationManual:
	default:
		return fmt.Errorf("%w: unknown allocation_mode %q", ErrInvalidPolicy, p.AllocationMode)
	}
	switch p.EnforcementMode {
	case EnforcementStrict, EnforcementSoft:
	default:
		return fmt.Errorf("%w: unknown enforcement_mode %q", ErrInvalidPolicy, p.EnforcementMode)
	}
	return nil
}

// AllowsBorrowing 是否允许透支
func (p *AllocationPolicy) AllowsBorrowing() bool {
	return p != nil && p.EnforcementMode == EnforcementSoft
}

// IsPeriodic 是否按周期自动发放
func (p *AllocationPolicy) IsPeriodic() bool {
	return p != nil && p.AllocationMode != AllocationManual && p.AllocationMode != ""
}

// PeriodStart 返回 now 所在周期的起点（UTC）
func (p *AllocationPolicy) PeriodStart(now time.Time) time.Time {
	now = now.UTC()
	switch p.AllocationMode {
	case AllocationWeekly:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // 周一为起点
		return day.AddDate(0, 0, -offset)
	case AllocationDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// NextPeriodStart 返回 now 之后的下一个周期起点
func (p *AllocationPolicy) NextPeriodStart(now time.Time) time.Time {
	start := p.PeriodStart(now)
	switch p.AllocationMode {
	case AllocationWeekly:
		return start.AddDate(0, 0, 7)
	case AllocationDaily:
		return start.AddDate(0, 0, 1)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// CarryCap 可结转上限
func (p *AllocationPolicy) CarryCap() int64 {
	return p.MonthlyAllocation * int64(p.RolloverPercent) / 100
}

// RolloverPlan 周期结转计划
type RolloverPlan struct {
	Due         bool      // 已到周期边界，需要结转与发放
	Schedule    bool      // 仅需初始化下一次重置时间
	Forfeit     int64     // 作废数量
	Grant       int64     // 新周期发放数量
	PeriodStart time.Time // 新周期起点
	NextResetAt time.Time
}

// PlanRollover 计算结转计划。相同输入总是得到相同结果。
func PlanRollover(w *Wallet, p *AllocationPolicy, now time.Time) RolloverPlan {
	if !p.IsPeriodic() {
		return RolloverPlan{}
	}

	plan := RolloverPlan{
		PeriodStart: p.PeriodStart(now),
		NextResetAt: p.NextPeriodStart(now),
	}

	if w.NextResetAt == nil {
		plan.Schedule = true
		return plan
	}
	if now.Before(*w.NextResetAt) {
		return RolloverPlan{}
	}

	plan.Due = true
	carry := min(w.CurrentTokens, p.CarryCap())
	if carry < 0 {
		carry = 0
	}
	plan.Forfeit = w.CurrentTokens - carry

	plan.Grant = p.MonthlyAllocation
	if p.MonthlyCap > 0 && carry+plan.Grant > p.MonthlyCap {
		plan.Grant = max(p.MonthlyCap-carry, 0)
	}
	return plan
}
