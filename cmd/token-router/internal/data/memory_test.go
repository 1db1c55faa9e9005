package data

import (
	"context"
	"sync"
	"testing"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFundedWallet(t *testing.T, store *MemoryWalletStore, userID string, amount int64) *domain.Wallet {
	t.Helper()
	w := domain.NewWallet(userID, "tenant-1", "free")
	entry, err := w.Apply(domain.Adjustment{
		Direction: domain.DirectionCredit,
		Amount:    amount,
		Reason:    domain.ReasonBaseAllocation,
		Source:    domain.SourceAllocation,
	}, false, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), w, []*domain.LedgerEntry{entry}))
	return w
}

func debit(amount int64) domain.WalletMutation {
	return func(w *domain.Wallet) ([]*domain.LedgerEntry, error) {
		e, err := w.Apply(domain.Adjustment{
			Direction: domain.DirectionDebit,
			Amount:    amount,
			Reason:    "test",
			Source:    domain.SourceManual,
		}, false, time.Now())
		if err != nil {
			return nil, err
		}
		return []*domain.LedgerEntry{e}, nil
	}
}

func TestMemoryWalletStore_CreateDuplicate(t *testing.T) {
	store := NewMemoryWalletStore()
	newFundedWallet(t, store, "u1", 100)

	err := store.Create(context.Background(), domain.NewWallet("u1", "tenant-1", "free"), nil)
	assert.ErrorIs(t, err, domain.ErrWalletExists)
}

func TestMemoryWalletStore_MutateFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWalletStore()
	w := newFundedWallet(t, store, "u1", 100)

	_, _, err := store.Mutate(ctx, "u1", debit(150))
	assert.ErrorIs(t, err, domain.ErrInsufficientTokens)

	got, err := store.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.CurrentTokens)
	assert.Equal(t, int64(1), got.LedgerSeq)

	entries, err := store.ListAll(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryWalletStore_ConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWalletStore()
	w := newFundedWallet(t, store, "u1", 1000)

	const workers = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := store.Mutate(ctx, "u1", debit(30)); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000/30, success)

	got, err := store.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000-30*success), got.CurrentTokens)

	entries, err := store.ListAll(ctx, w.ID)
	require.NoError(t, err)
	audit := domain.Replay(got, entries)
	assert.True(t, audit.Consistent, audit.Problems)
}

func TestMemoryWalletStore_ListByWalletNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWalletStore()
	w := newFundedWallet(t, store, "u1", 100)
	for i := 0; i < 4; i++ {
		_, _, err := store.Mutate(ctx, "u1", debit(10))
		require.NoError(t, err)
	}

	page, err := store.ListByWallet(ctx, w.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Sequence)
	assert.Equal(t, int64(4), page[1].Sequence)

	page, err = store.ListByWallet(ctx, w.ID, 10, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Sequence)
	assert.Equal(t, int64(1), page[1].Sequence)

	page, err = store.ListByWallet(ctx, w.ID, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryWalletStore_ListDueForReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWalletStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	past, future := now.Add(-time.Hour), now.Add(time.Hour)
	due := domain.NewWallet("due", "t", "free")
	due.NextResetAt = &past
	notDue := domain.NewWallet("later", "t", "free")
	notDue.NextResetAt = &future
	unscheduled := domain.NewWallet("never", "t", "free")

	for _, w := range []*domain.Wallet{due, notDue, unscheduled} {
		require.NoError(t, store.Create(ctx, w, nil))
	}

	got, err := store.ListDueForReset(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "due", got[0].UserID)
}

func TestMemoryWorkerStore_UpsertKeepsRuntimeState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkerStore()
	now := time.Now()

	w := domain.NewWorker("t", domain.WorkerDescriptor{WorkerID: "w1", Capacity: 10}, now)
	_, err := store.Upsert(ctx, w)
	require.NoError(t, err)

	_, err = store.UpdateHealth(ctx, "w1", 40, domain.WorkerStatusMaintenance, now)
	require.NoError(t, err)
	require.NoError(t, store.AdjustLoad(ctx, "w1", 3, now))

	again := domain.NewWorker("t", domain.WorkerDescriptor{WorkerID: "w1", Capacity: 20, Region: "eu"}, now.Add(time.Minute))
	got, err := store.Upsert(ctx, again)
	require.NoError(t, err)

	assert.Equal(t, 20, got.Capacity)
	assert.Equal(t, "eu", got.Region)
	assert.Equal(t, 40, got.HealthScore)
	assert.Equal(t, domain.WorkerStatusMaintenance, got.Status)
	assert.Equal(t, 3, got.CurrentLoad)
}

func TestMemoryWorkerStore_AdjustLoadNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkerStore()
	_, err := store.Upsert(ctx, domain.NewWorker("t", domain.WorkerDescriptor{WorkerID: "w1", Capacity: 10}, time.Now()))
	require.NoError(t, err)

	require.NoError(t, store.AdjustLoad(ctx, "w1", -5, time.Now()))
	got, err := store.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentLoad)

	assert.ErrorIs(t, store.AdjustLoad(ctx, "missing", 1, time.Now()), domain.ErrWorkerNotFound)
}

func TestMemoryWorkerStore_ListFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkerStore()
	now := time.Now()
	for _, d := range []domain.WorkerDescriptor{
		{WorkerID: "a", WorkerType: "gpu", Capacity: 10, Region: "us"},
		{WorkerID: "b", WorkerType: "cpu", Capacity: 10, Region: "us"},
		{WorkerID: "c", WorkerType: "gpu", Capacity: 10, Region: "eu"},
	} {
		_, err := store.Upsert(ctx, domain.NewWorker("t", d, now))
		require.NoError(t, err)
	}
	_, err := store.Upsert(ctx, domain.NewWorker("other", domain.WorkerDescriptor{WorkerID: "d", WorkerType: "gpu", Capacity: 1}, now))
	require.NoError(t, err)

	got, err := store.List(ctx, domain.WorkerFilter{TenantID: "t", WorkerType: "gpu"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].WorkerID)
	assert.Equal(t, "c", got[1].WorkerID)

	got, err = store.List(ctx, domain.WorkerFilter{TenantID: "t", Region: "us", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].WorkerID)
}

func TestMemoryPolicyStore_UpsertKeepsID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPolicyStore()

	p := domain.NewLevelPolicy("pro")
	p.MonthlyAllocation = 500
	require.NoError(t, store.Upsert(ctx, p))

	replacement := domain.NewLevelPolicy("pro")
	replacement.MonthlyAllocation = 800
	require.NoError(t, store.Upsert(ctx, replacement))

	got, err := store.GetByLevelID(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, int64(800), got.MonthlyAllocation)

	_, err = store.GetByUserID(ctx, "pro")
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}

func TestMemoryRoutingMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRoutingMetrics()
	require.NoError(t, m.Increment(ctx, "w1", domain.StrategyLeastLoaded))
	require.NoError(t, m.Increment(ctx, "w1", domain.StrategyLeastLoaded))
	require.NoError(t, m.Increment(ctx, "w1", domain.StrategyHealthBased))

	got, err := m.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Total)
	assert.Equal(t, int64(2), got.ByStrategy[domain.StrategyLeastLoaded])

	empty, err := m.Get(ctx, "w2")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}
