package service

import (
	"context"
	"testing"

	"tokenrouter/cmd/token-router/internal/biz"
	"tokenrouter/cmd/token-router/internal/data"
	"tokenrouter/cmd/token-router/internal/domain"
	"tokenrouter/pkg/auth"
	"tokenrouter/pkg/middleware"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct{ consumed int64 }

func (e stubEngine) Execute(_ context.Context, _ *domain.EngineRequest) (*domain.EngineResult, error) {
	return &domain.EngineResult{Success: true, TokensConsumed: e.consumed, OutputSummary: "ok"}, nil
}

func newTestService(t *testing.T) *TokenService {
	t.Helper()
	logger := log.DefaultLogger
	wallets := data.NewMemoryWalletStore()
	policies := biz.NewPolicyEngine(data.NewMemoryPolicyStore(), logger)
	walletUC := biz.NewWalletUsecase(wallets, wallets, policies, nil, logger)
	registry := biz.NewWorkerRegistry(data.NewMemoryWorkerStore(), domain.DefaultStaleAfter, logger)
	router := biz.NewRoutingSelector(registry, data.NewMemoryRoutingMetrics(), logger)
	dispatcher := biz.NewDispatcher(walletUC, policies, registry, router, data.NewMemoryExecutionStore(),
		stubEngine{consumed: 40}, nil, biz.DispatcherConfig{DefaultMinReserve: 1}, logger)

	p := domain.NewLevelPolicy("free")
	p.BaseAllocation = 100
	require.NoError(t, policies.UpsertPolicy(context.Background(), p))

	return NewTokenService(walletUC, policies, registry, router, dispatcher, auth.NewRBACManager(), logger)
}

func as(userID string, roles ...string) context.Context {
	return middleware.WithIdentity(context.Background(), &middleware.Identity{UserID: userID, TenantID: "t1", Roles: roles})
}

func TestAdjustTokens_RequiresBillingOrAdmin(t *testing.T) {
	s := newTestService(t)
	_, err := s.Dispatch(as("alice", "user"), &DispatchRequest{LevelID: "free"})
	// 没有节点，但钱包已创建
	assert.Equal(t, 503, kerrors.Code(err))

	req := &AdjustRequest{Amount: 50, Direction: "credit", Reason: "promo"}
	_, err = s.AdjustTokens(as("alice", "user"), "alice", req)
	assert.Equal(t, 403, kerrors.Code(err))

	entry, err := s.AdjustTokens(as("bob", "billing"), "alice", req)
	require.NoError(t, err)
	assert.Equal(t, int64(150), entry.BalanceAfter)
	assert.Equal(t, "bob", entry.Metadata["operator"])

	_, err = s.AdjustTokens(as("bob", "admin"), "alice", &AdjustRequest{Amount: 500, Direction: "debit", Reason: "fix"})
	assert.Equal(t, 402, kerrors.Code(err))

	_, err = s.AdjustTokens(as("bob", "admin"), "alice", &AdjustRequest{Amount: 0, Direction: "debit", Reason: "fix"})
	assert.Equal(t, 400, kerrors.Code(err))

	_, err = s.AdjustTokens(as("bob", "admin"), "nobody", req)
	assert.Equal(t, 404, kerrors.Code(err))
}

func TestGetWallet_Access(t *testing.T) {
	s := newTestService(t)

	_, err := s.GetWallet(as("alice"), "alice")
	assert.Equal(t, 404, kerrors.Code(err))

	_, err = s.Dispatch(as("alice"), &DispatchRequest{LevelID: "free"})
	require.Error(t, err)

	w, err := s.GetWallet(as("alice"), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.AvailableTokens)
	require.NotNil(t, w.Policy)
	assert.Equal(t, "free", w.Policy.LevelID)

	_, err = s.GetWallet(as("mallory", "user"), "alice")
	assert.Equal(t, 403, kerrors.Code(err))

	_, err = s.GetWallet(context.Background(), "alice")
	assert.Equal(t, 403, kerrors.Code(err))

	audit, err := s.VerifyWallet(as("ops", "admin"), "alice")
	require.NoError(t, err)
	assert.True(t, audit.Consistent)

	ledger, err := s.GetLedger(as("alice"), "alice", 500, -1)
	require.NoError(t, err)
	assert.Equal(t, 100, ledger.Limit)
	assert.Equal(t, 0, ledger.Offset)
	assert.Len(t, ledger.Entries, 1)
}

func TestDispatch_EndToEnd(t *testing.T) {
	s := newTestService(t)
	ctx := as("alice", "user")

	_, err := s.RegisterWorker(ctx, &RegisterWorkerRequest{WorkerID: "w1", WorkerType: "llm", Capacity: 4})
	require.NoError(t, err)

	_, err = s.Dispatch(ctx, &DispatchRequest{LevelID: "free", Strategy: "fastest"})
	assert.Equal(t, 400, kerrors.Code(err))

	exec, err := s.Dispatch(ctx, &DispatchRequest{LevelID: "free", EstimatedTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", exec.Status)
	assert.Equal(t, "w1", exec.WorkerID)
	assert.Equal(t, int64(40), exec.TokensConsumed)

	w, err := s.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(60), w.CurrentTokens)

	_, err = s.Dispatch(ctx, &DispatchRequest{EstimatedTokens: 61})
	assert.Equal(t, 402, kerrors.Code(err))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)

	_, err = s.GetExecution(as("mallory"), exec.ID)
	assert.Equal(t, 404, kerrors.Code(err))

	_, err = s.GetExecution(as("root", "admin"), exec.ID)
	assert.NoError(t, err)

	m, err := s.WorkerMetrics(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Total)

	_, err = s.WorkerMetrics(ctx, "ghost")
	assert.Equal(t, 404, kerrors.Code(err))
}

func TestWorkerOperations(t *testing.T) {
	s := newTestService(t)
	ctx := as("op", "operator")

	_, err := s.RegisterWorker(ctx, &RegisterWorkerRequest{WorkerID: "w1", Capacity: 0})
	assert.Equal(t, 400, kerrors.Code(err))

	w, err := s.RegisterWorker(ctx, &RegisterWorkerRequest{WorkerID: "w1", Capacity: 10})
	require.NoError(t, err)
	assert.Equal(t, "t1", w.TenantID)

	w, err = s.UpdateHealth(ctx, "w1", 40)
	require.NoError(t, err)
	assert.Equal(t, "maintenance", w.Status)

	_, err = s.UpdateHealth(ctx, "w1", 140)
	assert.Equal(t, 400, kerrors.Code(err))

	_, err = s.SetStatus(ctx, "w1", "active")
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, "w1", "sleeping")
	assert.Equal(t, 400, kerrors.Code(err))

	w, err = s.UpdateLoad(ctx, "w1", 5)
	require.NoError(t, err)
	assert.Equal(t, 50.0, w.LoadPercent)

	assert.Equal(t, 404, kerrors.Code(s.Heartbeat(ctx, "ghost")))
	assert.NoError(t, s.Heartbeat(ctx, "w1"))

	stats, err := s.WorkerStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	// 健康分 40 低于默认 60
	minHealth := 30
	avail, err := s.AvailableWorkers(ctx, &AvailableWorkersRequest{})
	require.NoError(t, err)
	assert.Empty(t, avail)

	avail, err = s.AvailableWorkers(ctx, &AvailableWorkersRequest{MinHealthScore: &minHealth})
	require.NoError(t, err)
	assert.Len(t, avail, 1)
}

func TestPolicies(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.UpsertPolicy(ctx, &PolicyRequest{LevelID: "pro", AllocationMode: "yearly", EnforcementMode: "strict"})
	assert.Equal(t, 400, kerrors.Code(err))

	p, err := s.UpsertPolicy(ctx, &PolicyRequest{LevelID: "pro", MonthlyAllocation: 5000, AllocationMode: "monthly", EnforcementMode: "soft"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	list, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDeactivateWallet(t *testing.T) {
	s := newTestService(t)
	_, err := s.Dispatch(as("alice"), &DispatchRequest{LevelID: "free"})
	require.Error(t, err)

	_, err = s.DeactivateWallet(as("alice", "user"), "alice")
	assert.Equal(t, 403, kerrors.Code(err))

	w, err := s.DeactivateWallet(as("ops", "admin"), "alice")
	require.NoError(t, err)
	assert.Equal(t, string(domain.WalletStatusInactive), w.Status)
	assert.Equal(t, int64(100), w.CurrentTokens)

	_, err = s.AdjustTokens(as("ops", "admin"), "alice", &AdjustRequest{Amount: 5, Direction: "credit", Reason: "promo"})
	assert.Equal(t, 403, kerrors.Code(err))

	_, err = s.DeactivateWallet(as("ops", "admin"), "nobody")
	assert.Equal(t, 404, kerrors.Code(err))
}
