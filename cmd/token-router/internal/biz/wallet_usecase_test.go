package biz

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureWallet_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) { p.BaseAllocation = 250 })

	first, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)
	second, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(250), second.CurrentTokens)
	assert.Equal(t, int64(250), second.LifetimeTokens)

	entries, err := f.walletUC.GetLedger(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ReasonBaseAllocation, entries[0].Reason)
	assert.Equal(t, domain.SourceAllocation, entries[0].Source)
	assert.Equal(t, 1, f.events.count())
}

func TestEnsureWallet_ConcurrentCreatorsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) { p.BaseAllocation = 100 })

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
			if assert.NoError(t, err) {
				ids[i] = w.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	w, err := f.walletUC.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.CurrentTokens)
	assert.Equal(t, int64(1), w.LedgerSeq)
}

func TestEnsureWallet_NoPolicyStartsEmpty(t *testing.T) {
	f := newFixture(t)
	w, err := f.walletUC.EnsureWallet(context.Background(), "u1", "tenant-1", "unknown-level")
	require.NoError(t, err)
	assert.Zero(t, w.CurrentTokens)
	assert.Nil(t, w.NextResetAt)
	assert.Zero(t, f.events.count())
}

func TestGetWallet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.walletUC.GetWallet(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}

func TestAdjustTokens_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "")
	require.NoError(t, err)

	_, err = f.walletUC.AdjustTokens(ctx, "u1", 0, domain.DirectionCredit, "zero", AdjustOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.walletUC.AdjustTokens(ctx, "u1", -5, domain.DirectionDebit, "negative", AdjustOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.walletUC.AdjustTokens(ctx, "u1", 5, domain.Direction("sideways"), "bad", AdjustOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidDirection)

	_, err = f.walletUC.AdjustTokens(ctx, "nobody", 5, domain.DirectionCredit, "x", AdjustOptions{})
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)

	entries, err := f.walletUC.GetLedger(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdjustTokens_StrictRejectsOverdraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) { p.BaseAllocation = 100 })
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)

	_, err = f.walletUC.AdjustTokens(ctx, "u1", 101, domain.DirectionDebit, "too much", AdjustOptions{})
	assert.ErrorIs(t, err, domain.ErrInsufficientTokens)

	w, err := f.walletUC.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.CurrentTokens)
	assert.Equal(t, int64(1), w.LedgerSeq)
}

func TestAdjustTokens_SoftBorrowsAndRepays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) {
		p.BaseAllocation = 100
		p.EnforcementMode = domain.EnforcementSoft
	})
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)

	entry, err := f.walletUC.AdjustTokens(ctx, "u1", 150, domain.DirectionDebit, "burst", AdjustOptions{})
	require.NoError(t, err)
	assert.Equal(t, "true", entry.Metadata["overdraft"])
	assert.Equal(t, int64(0), entry.BalanceAfter)
	assert.Equal(t, int64(50), entry.BorrowedAfter)

	entry, err = f.walletUC.AdjustTokens(ctx, "u1", 80, domain.DirectionCredit, "top-up", AdjustOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(30), entry.BalanceAfter)
	assert.Equal(t, int64(0), entry.BorrowedAfter)
	assert.Equal(t, "50", entry.Metadata["repaid"])

	w, err := f.walletUC.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(180), w.LifetimeTokens)

	audit, err := f.walletUC.VerifyWallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, audit.Consistent, audit.Problems)
}

func TestAdjustTokens_InactiveWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "")
	require.NoError(t, err)

	w, err := f.walletUC.DeactivateWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.WalletStatusInactive, w.Status)

	_, err = f.walletUC.AdjustTokens(ctx, "u1", 10, domain.DirectionCredit, "x", AdjustOptions{})
	assert.ErrorIs(t, err, domain.ErrWalletInactive)

	// 停用不删除
	_, err = f.walletUC.GetWallet(ctx, "u1")
	assert.NoError(t, err)
}

func TestAdjustTokens_NoDoubleSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const balance, amount, callers = 1000, 70, 40
	f.seedPolicy(t, func(p *domain.AllocationPolicy) { p.BaseAllocation = balance })
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)

	var (
		wg                 sync.WaitGroup
		mu                 sync.Mutex
		success, insuffice int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.walletUC.AdjustTokens(ctx, "u1", amount, domain.DirectionDebit, "spend", AdjustOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			default:
				assert.ErrorIs(t, err, domain.ErrInsufficientTokens)
				insuffice++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, balance/amount, success)
	assert.Equal(t, callers-balance/amount, insuffice)

	w, err := f.walletUC.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(balance-amount*(balance/amount)), w.CurrentTokens)
	assert.GreaterOrEqual(t, w.CurrentTokens, int64(0))
}

func TestVerifyWallet_ReconstructsFromLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) {
		p.BaseAllocation = 500
		p.EnforcementMode = domain.EnforcementSoft
	})
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		dir := domain.DirectionCredit
		if r.Intn(2) == 0 {
			dir = domain.DirectionDebit
		}
		_, err := f.walletUC.AdjustTokens(ctx, "u1", int64(r.Intn(90)+1), dir, "random", AdjustOptions{})
		require.NoError(t, err)
	}

	audit, err := f.walletUC.VerifyWallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, audit.Consistent, audit.Problems)
	assert.Equal(t, 201, audit.Entries)

	w, err := f.walletUC.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, audit.Credits, w.LifetimeTokens)
	assert.Equal(t, audit.Credits-audit.Debits, w.CurrentTokens-w.BorrowedTokens)
}

func TestGetLedger_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "")
	require.NoError(t, err)
	for i := 0; i < 130; i++ {
		_, err := f.walletUC.AdjustTokens(ctx, "u1", 1, domain.DirectionCredit, "drip", AdjustOptions{})
		require.NoError(t, err)
	}

	page, err := f.walletUC.GetLedger(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, page, 20)
	assert.Equal(t, int64(130), page[0].Sequence)

	page, err = f.walletUC.GetLedger(ctx, "u1", 500, 0)
	require.NoError(t, err)
	assert.Len(t, page, 100)

	page, err = f.walletUC.GetLedger(ctx, "u1", 5, 125)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, int64(5), page[0].Sequence)
	assert.Equal(t, int64(1), page[4].Sequence)
}

func TestApplyRollover_CarryCapAndGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) {
		p.BaseAllocation = 500
		p.MonthlyAllocation = 1000
		p.RolloverPercent = 20
	})

	w, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)
	require.NotNil(t, w.NextResetAt)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), *w.NextResetAt)

	f.clock.Set(time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC))
	result, err := f.walletUC.ApplyRollover(ctx, "u1")
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Len(t, result.Entries, 2)

	forfeit, grant := result.Entries[0], result.Entries[1]
	assert.Equal(t, domain.DirectionDebit, forfeit.Direction)
	assert.Equal(t, int64(300), forfeit.Amount)
	assert.Equal(t, domain.ReasonRolloverForfeit, forfeit.Reason)
	assert.Equal(t, domain.DirectionCredit, grant.Direction)
	assert.Equal(t, int64(1000), grant.Amount)
	assert.Equal(t, domain.ReasonMonthlyAllocation, grant.Reason)

	assert.Equal(t, int64(1200), result.Wallet.CurrentTokens)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *result.Wallet.NextResetAt)

	again, err := f.walletUC.ApplyRollover(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, int64(1200), again.Wallet.CurrentTokens)
}

func TestApplyRollover_MonthlyCapClipsGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) {
		p.BaseAllocation = 500
		p.MonthlyAllocation = 1000
		p.RolloverPercent = 50
		p.MonthlyCap = 1200
	})
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	result, err := f.walletUC.ApplyRollover(ctx, "u1")
	require.NoError(t, err)
	require.True(t, result.Applied)
	assert.Equal(t, int64(1200), result.Wallet.CurrentTokens)
}

func TestGetWallet_AppliesDueRolloverLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) {
		p.MonthlyAllocation = 400
		p.AllocationMode = domain.AllocationDaily
	})
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)

	// 跨越多个周期只发放一次
	f.clock.Set(time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC))
	w, err := f.walletUC.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), w.CurrentTokens)
	assert.Equal(t, time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC), *w.NextResetAt)
}

func TestAllocationScheduler_RunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) { p.MonthlyAllocation = 300 })
	for _, u := range []string{"u1", "u2"} {
		_, err := f.walletUC.EnsureWallet(ctx, u, "tenant-1", "free")
		require.NoError(t, err)
	}
	_, err := f.walletUC.EnsureWallet(ctx, "manual", "tenant-1", "")
	require.NoError(t, err)

	scheduler := NewAllocationScheduler(f.wallets, f.walletUC, time.Hour, f.logger)

	applied, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	f.clock.Set(time.Date(2026, 2, 1, 0, 0, 1, 0, time.UTC))
	applied, err = scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	w, err := f.walletUC.GetWallet(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(300), w.CurrentTokens)
}

func TestAdjustTokens_DueRolloverAppliesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) {
		p.BaseAllocation = 500
		p.MonthlyAllocation = 1000
		p.RolloverPercent = 20
	})
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)

	// 500 → 结转 200 + 发放 1000 = 1200，再扣 400
	f.clock.Set(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC))
	entry, err := f.walletUC.AdjustTokens(ctx, "u1", 400, domain.DirectionDebit, "spend", AdjustOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(800), entry.BalanceAfter)
	assert.Equal(t, int64(4), entry.Sequence)

	w, err := f.walletUC.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(800), w.CurrentTokens)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *w.NextResetAt)

	audit, err := f.walletUC.VerifyWallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, audit.Consistent, audit.Problems)
}

func TestRollover_SkipsInactiveWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPolicy(t, func(p *domain.AllocationPolicy) { p.MonthlyAllocation = 1000 })
	_, err := f.walletUC.EnsureWallet(ctx, "u1", "tenant-1", "free")
	require.NoError(t, err)
	_, err = f.walletUC.DeactivateWallet(ctx, "u1")
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC))
	w, err := f.walletUC.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.WalletStatusInactive, w.Status)
	assert.Zero(t, w.CurrentTokens)

	result, err := f.walletUC.ApplyRollover(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Empty(t, result.Entries)

	ledger, err := f.walletUC.GetLedger(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, ledger)
}
