package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"
	"tokenrouter/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultLedgerPageSize = 20
	maxLedgerPageSize     = 100
)

// LedgerEventPublisher 账本事件发布接口
type LedgerEventPublisher interface {
	PublishLedgerEntry(ctx context.Context, wallet *domain.Wallet, entry *domain.LedgerEntry) error
}

// AdjustOptions 调整附加信息
type AdjustOptions struct {
	Source        domain.EntrySource
	ReferenceType string
	ReferenceID   string
	Metadata      map[string]string
}

// RolloverResult 周期结转结果
type RolloverResult struct {
	Wallet  *domain.Wallet
	Entries []*domain.LedgerEntry
	Applied bool
}

// WalletUsecase 钱包与账本用例
type WalletUsecase struct {
	wallets  domain.WalletRepository
	ledger   domain.LedgerRepository
	policies *PolicyEngine
	events   LedgerEventPublisher
	log      *log.Helper
	now      func() time.Time
}

// NewWalletUsecase 创建钱包用例。events 可以为 nil。
func NewWalletUsecase(
	wallets domain.WalletRepository,
	ledger domain.LedgerRepository,
	policies *PolicyEngine,
	events LedgerEventPublisher,
	logger log.Logger,
) *WalletUsecase {
	return &WalletUsecase{
		wallets:  wallets,
		ledger:   ledger,
		policies: policies,
		events:   events,
		log:      log.NewHelper(log.With(logger, "module", "wallet-usecase")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnsureWallet 幂等地获取或创建钱包。首次创建时按策略发放基础额度。
func (uc *WalletUsecase) EnsureWallet(ctx context.Context, userID, tenantID, levelID string) (*domain.Wallet, error) {
	wallet, err := uc.GetWallet(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}

	policy, err := uc.policies.GetPolicyFor(ctx, userID, levelID)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	wallet = domain.NewWallet(userID, tenantID, levelID)
	var entries []*domain.LedgerEntry
	if policy != nil {
		wallet.MonthlyAllocationTokens = policy.MonthlyAllocation
		if policy.IsPeriodic() {
			start, next := policy.PeriodStart(now), policy.NextPeriodStart(now)
			wallet.LastResetAt, wallet.NextResetAt = &start, &next
		}
		if policy.BaseAllocation > 0 {
			entry, err := wallet.Apply(domain.Adjustment{
				Direction: domain.DirectionCredit,
				Amount:    policy.BaseAllocation,
				Reason:    domain.ReasonBaseAllocation,
				Source:    domain.SourceAllocation,
				Metadata:  map[string]string{"policy_id": policy.ID},
			}, false, now)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	}

	if err := uc.wallets.Create(ctx, wallet, entries); err != nil {
		if errors.Is(err, domain.ErrWalletExists) {
			// 并发创建时以先写入者为准
			return uc.wallets.GetByUserID(ctx, userID)
		}
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	uc.log.WithContext(ctx).Infof("wallet created: user=%s tenant=%s level=%s base=%d",
		userID, tenantID, levelID, wallet.CurrentTokens)
	uc.afterCommit(ctx, wallet, entries)
	return wallet, nil
}

// GetWallet 获取钱包快照，到期的周期结转会先被应用
func (uc *WalletUsecase) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	wallet, err := uc.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	policy, err := uc.policies.GetPolicyFor(ctx, userID, wallet.LevelID)
	if err != nil {
		uc.log.WithContext(ctx).Warnf("policy lookup failed for user=%s: %v", userID, err)
		return wallet, nil
	}

	if !uc.rolloverPending(wallet, policy) {
		return wallet, nil
	}

	result, err := uc.ApplyRollover(ctx, userID)
	if err != nil {
		uc.log.WithContext(ctx).Errorf("lazy rollover failed for user=%s: %v", userID, err)
		return wallet, nil
	}
	return result.Wallet, nil
}

// AdjustTokens 唯一的余额变更入口。成功时恰好追加一条账本记录。
func (uc *WalletUsecase) AdjustTokens(
	ctx context.Context,
	userID string,
	amount int64,
	direction domain.Direction,
	reason string,
	opts AdjustOptions,
) (*domain.LedgerEntry, error) {
	adj := domain.Adjustment{
		Direction:     direction,
		Amount:        amount,
		Reason:        reason,
		Source:        opts.Source,
		ReferenceType: opts.ReferenceType,
		ReferenceID:   opts.ReferenceID,
		Metadata:      opts.Metadata,
	}
	if adj.Source == "" {
		adj.Source = domain.SourceManual
	}
	if err := adj.Validate(); err != nil {
		monitoring.WalletRejectionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	snapshot, err := uc.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	policy, err := uc.policies.GetPolicyFor(ctx, userID, snapshot.LevelID)
	if err != nil {
		return nil, err
	}
	allowBorrow := policy.AllowsBorrowing()

	// 到期的结转先于本次变更入账
	if uc.rolloverPending(snapshot, policy) {
		if _, err := uc.ApplyRollover(ctx, userID); err != nil {
			return nil, err
		}
	}

	mutate := func(w *domain.Wallet) ([]*domain.LedgerEntry, error) {
		if !w.IsActive() {
			return nil, domain.ErrWalletInactive
		}
		entry, err := w.Apply(adj, allowBorrow, uc.now())
		if err != nil {
			return nil, err
		}
		return []*domain.LedgerEntry{entry}, nil
	}

	wallet, entries, err := uc.wallets.Mutate(ctx, userID, mutate)
	if domain.IsRetryable(err) {
		uc.log.WithContext(ctx).Warnf("retrying wallet adjustment for user=%s after conflict", userID)
		wallet, entries, err = uc.wallets.Mutate(ctx, userID, mutate)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientTokens):
			monitoring.WalletRejectionsTotal.WithLabelValues("insufficient").Inc()
		case errors.Is(err, domain.ErrWalletInactive):
			monitoring.WalletRejectionsTotal.WithLabelValues("inactive").Inc()
		case domain.IsRetryable(err):
			monitoring.WalletRejectionsTotal.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	entry := entries[0]
	if entry.Metadata["overdraft"] == "true" {
		uc.log.WithContext(ctx).Warnf("wallet overdraft: user=%s amount=%d borrowed=%d",
			userID, amount, wallet.BorrowedTokens)
	}
	uc.afterCommit(ctx, wallet, entries)
	return entry, nil
}

// ApplyRollover 在钱包锁内执行到期的周期结转
func (uc *WalletUsecase) ApplyRollover(ctx context.Context, userID string) (*RolloverResult, error) {
	snapshot, err := uc.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	policy, err := uc.policies.GetPolicyFor(ctx, userID, snapshot.LevelID)
	if err != nil {
		return nil, err
	}
	if !policy.IsPeriodic() {
		return &RolloverResult{Wallet: snapshot}, nil
	}

	var applied bool
	wallet, entries, err := uc.wallets.Mutate(ctx, userID, func(w *domain.Wallet) ([]*domain.LedgerEntry, error) {
		if !w.IsActive() {
			return nil, nil
		}
		now := uc.now()
		plan := uc.policies.ApplyPeriodRollover(w, policy, now)
		switch {
		case plan.Schedule:
			w.LastResetAt, w.NextResetAt = &plan.PeriodStart, &plan.NextResetAt
			w.UpdatedAt = now
			return nil, nil
		case !plan.Due:
			return nil, nil
		}

		applied = true
		var out []*domain.LedgerEntry
		if plan.Forfeit > 0 {
			entry, err := w.Apply(domain.Adjustment{
				Direction: domain.DirectionDebit,
				Amount:    plan.Forfeit,
				Reason:    domain.ReasonRolloverForfeit,
				Source:    domain.SourceRollover,
				Metadata:  map[string]string{"policy_id": policy.ID},
			}, false, now)
			if err != nil {
				return nil, err
			}
			out = append(out, entry)
		}
		if plan.Grant > 0 {
			entry, err := w.Apply(domain.Adjustment{
				Direction: domain.DirectionCredit,
				Amount:    plan.Grant,
				Reason:    domain.ReasonMonthlyAllocation,
				Source:    domain.SourceAllocation,
				Metadata: map[string]string{
					"policy_id":    policy.ID,
					"period_start": plan.PeriodStart.Format(time.RFC3339),
				},
			}, false, now)
			if err != nil {
				return nil, err
			}
			out = append(out, entry)
		}
		w.MonthlyAllocationTokens = policy.MonthlyAllocation
		w.LastResetAt, w.NextResetAt = &plan.PeriodStart, &plan.NextResetAt
		w.UpdatedAt = now
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply rollover: %w", err)
	}

	if applied {
		uc.log.WithContext(ctx).Infof("rollover applied: user=%s entries=%d balance=%d next_reset=%v",
			userID, len(entries), wallet.CurrentTokens, wallet.NextResetAt)
	}
	uc.afterCommit(ctx, wallet, entries)
	return &RolloverResult{Wallet: wallet, Entries: entries, Applied: applied}, nil
}

// rolloverPending 活跃钱包在 now 时刻是否有待执行的结转或排期
func (uc *WalletUsecase) rolloverPending(w *domain.Wallet, policy *domain.AllocationPolicy) bool {
	if !w.IsActive() {
		return false
	}
	plan := uc.policies.ApplyPeriodRollover(w, policy, uc.now())
	return plan.Due || plan.Schedule
}

// GetLedger 分页获取账本（倒序），无副作用
func (uc *WalletUsecase) GetLedger(ctx context.Context, userID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultLedgerPageSize
	}
	if limit > maxLedgerPageSize {
		limit = maxLedgerPageSize
	}
	if offset < 0 {
		offset = 0
	}

	wallet, err := uc.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uc.ledger.ListByWallet(ctx, wallet.ID, limit, offset)
}

// VerifyWallet 重放账本，核对钱包投影
func (uc *WalletUsecase) VerifyWallet(ctx context.Context, userID string) (*domain.LedgerAudit, error) {
	wallet, err := uc.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := uc.ledger.ListAll(ctx, wallet.ID)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}

	audit := domain.Replay(wallet, entries)
	if !audit.Consistent {
		uc.log.WithContext(ctx).Errorf("ledger drift detected: user=%s problems=%v", userID, audit.Problems)
	}
	return audit, nil
}

// DeactivateWallet 停用钱包
func (uc *WalletUsecase) DeactivateWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	wallet, _, err := uc.wallets.Mutate(ctx, userID, func(w *domain.Wallet) ([]*domain.LedgerEntry, error) {
		w.Deactivate(uc.now())
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.WithContext(ctx).Infof("wallet deactivated: user=%s", userID)
	return wallet, nil
}

// afterCommit 记录指标并发布事件；失败不影响已提交的账本
func (uc *WalletUsecase) afterCommit(ctx context.Context, wallet *domain.Wallet, entries []*domain.LedgerEntry) {
	for _, entry := range entries {
		monitoring.LedgerEntriesTotal.WithLabelValues(string(entry.Direction), string(entry.Source)).Inc()
		monitoring.LedgerTokensTotal.WithLabelValues(string(entry.Direction), string(entry.Source)).Add(float64(entry.Amount))

		if uc.events == nil {
			continue
		}
		if err := uc.events.PublishLedgerEntry(ctx, wallet, entry); err != nil {
			uc.log.WithContext(ctx).Errorf("publish ledger entry %s failed: %v", entry.ID, err)
		}
	}
}
