package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"tokenrouter/cmd/token-router/internal/data"
	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"
)

// recordingPublisher 记录发布的账本事件
type recordingPublisher struct {
	mu      sync.Mutex
	entries []*domain.LedgerEntry
}

func (p *recordingPublisher) PublishLedgerEntry(_ context.Context, _ *domain.Wallet, entry *domain.LedgerEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

type fixture struct {
	wallets  *data.MemoryWalletStore
	policies *data.MemoryPolicyStore
	workers  *data.MemoryWorkerStore
	execs    *data.MemoryExecutionStore
	metrics  *data.MemoryRoutingMetrics
	events   *recordingPublisher
	engine   *PolicyEngine
	walletUC *WalletUsecase
	registry *WorkerRegistry
	selector *RoutingSelector
	clock    *testClock
	logger   log.Logger
}

func ptr[T any](v T) *T { return &v }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		wallets:  data.NewMemoryWalletStore(),
		policies: data.NewMemoryPolicyStore(),
		workers:  data.NewMemoryWorkerStore(),
		execs:    data.NewMemoryExecutionStore(),
		metrics:  data.NewMemoryRoutingMetrics(),
		events:   &recordingPublisher{},
		clock:    &testClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)},
		logger:   log.DefaultLogger,
	}
	f.engine = NewPolicyEngine(f.policies, f.logger)
	f.walletUC = NewWalletUsecase(f.wallets, f.wallets, f.engine, f.events, f.logger)
	f.walletUC.now = f.clock.Now
	f.registry = NewWorkerRegistry(f.workers, domain.DefaultStaleAfter, f.logger)
	f.registry.now = f.clock.Now
	f.selector = NewRoutingSelector(f.registry, f.metrics, f.logger)
	return f
}

func (f *fixture) seedPolicy(t *testing.T, mutate func(p *domain.AllocationPolicy)) *domain.AllocationPolicy {
	t.Helper()
	p := domain.NewLevelPolicy("free")
	mutate(p)
	require.NoError(t, f.engine.UpsertPolicy(context.Background(), p))
	return p
}

func (f *fixture) addWorker(t *testing.T, id string, capacity, load, health int) *domain.Worker {
	t.Helper()
	ctx := context.Background()
	_, err := f.registry.RegisterWorker(ctx, "tenant-1", domain.WorkerDescriptor{
		WorkerID:   id,
		WorkerType: "llm",
		Capacity:   capacity,
	})
	require.NoError(t, err)
	if load > 0 {
		_, err = f.registry.UpdateLoad(ctx, id, load)
		require.NoError(t, err)
	}
	w, err := f.registry.UpdateHealthScore(ctx, id, health)
	require.NoError(t, err)
	return w
}
