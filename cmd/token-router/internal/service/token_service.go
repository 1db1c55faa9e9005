package service

import (
	"context"
	"fmt"

	"tokenrouter/cmd/token-router/internal/biz"
	"tokenrouter/cmd/token-router/internal/domain"
	"tokenrouter/pkg/auth"
	"tokenrouter/pkg/middleware"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultLedgerLimit = 20
	maxLedgerLimit     = 100
)

// TokenService 令牌经济与路由服务
type TokenService struct {
	wallets    *biz.WalletUsecase
	policies   *biz.PolicyEngine
	registry   *biz.WorkerRegistry
	router     *biz.RoutingSelector
	dispatcher *biz.Dispatcher
	rbac       *auth.RBACManager
	log        *log.Helper
}

// NewTokenService 创建服务
func NewTokenService(
	wallets *biz.WalletUsecase,
	policies *biz.PolicyEngine,
	registry *biz.WorkerRegistry,
	router *biz.RoutingSelector,
	dispatcher *biz.Dispatcher,
	rbac *auth.RBACManager,
	logger log.Logger,
) *TokenService {
	return &TokenService{
		wallets:    wallets,
		policies:   policies,
		registry:   registry,
		router:     router,
		dispatcher: dispatcher,
		rbac:       rbac,
		log:        log.NewHelper(log.With(logger, "module", "service/token")),
	}
}

// caller 返回调用方身份
func caller(ctx context.Context) (*middleware.Identity, error) {
	id, ok := middleware.IdentityFrom(ctx)
	if !ok || id.UserID == "" {
		return nil, fmt.Errorf("%w: missing identity", domain.ErrForbidden)
	}
	return id, nil
}

// authorizeWallet 本人或具备 permission 的角色可访问
func (s *TokenService) authorizeWallet(ctx context.Context, userID string, permission auth.Permission) (*middleware.Identity, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if id.UserID == userID || s.rbac.CheckUserPermission(id.Roles, permission) {
		return id, nil
	}
	return nil, fmt.Errorf("%w: %s cannot access wallet of %s", domain.ErrForbidden, id.UserID, userID)
}

// GetWallet 钱包快照及生效策略
func (s *TokenService) GetWallet(ctx context.Context, userID string) (*WalletReply, error) {
	if _, err := s.authorizeWallet(ctx, userID, auth.PermissionAdjustWallet); err != nil {
		return nil, toServiceError(err)
	}
	wallet, err := s.wallets.GetWallet(ctx, userID)
	if err != nil {
		return nil, toServiceError(err)
	}
	policy, err := s.policies.GetPolicyFor(ctx, userID, wallet.LevelID)
	if err != nil {
		return nil, toServiceError(err)
	}
	return toWalletReply(wallet, policy), nil
}

// GetLedger 账本分页（倒序）
func (s *TokenService) GetLedger(ctx context.Context, userID string, limit, offset int) (*LedgerReply, error) {
	if _, err := s.authorizeWallet(ctx, userID, auth.PermissionAdjustWallet); err != nil {
		return nil, toServiceError(err)
	}
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	limit = min(limit, maxLedgerLimit)
	offset = max(offset, 0)

	entries, err := s.wallets.GetLedger(ctx, userID, limit, offset)
	if err != nil {
		return nil, toServiceError(err)
	}
	reply := &LedgerReply{Entries: make([]*LedgerEntryReply, 0, len(entries)), Limit: limit, Offset: offset}
	for _, e := range entries {
		reply.Entries = append(reply.Entries, toLedgerEntryReply(e))
	}
	return reply, nil
}

// AdjustTokens 手工调整，仅 admin/billing
func (s *TokenService) AdjustTokens(ctx context.Context, userID string, req *AdjustRequest) (*LedgerEntryReply, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, toServiceError(err)
	}
	if !s.rbac.CheckUserPermission(id.Roles, auth.PermissionAdjustWallet) {
		return nil, toServiceError(fmt.Errorf("%w: adjust requires admin or billing role", domain.ErrForbidden))
	}
	if req.Reason == "" {
		return nil, badRequest("reason is required")
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["operator"] = id.UserID

	entry, err := s.wallets.AdjustTokens(ctx, userID, req.Amount, domain.Direction(req.Direction), req.Reason, biz.AdjustOptions{
		Source:        domain.SourceManual,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, toServiceError(err)
	}
	s.log.WithContext(ctx).Infof("manual %s of %d for %s by %s", req.Direction, req.Amount, userID, id.UserID)
	return toLedgerEntryReply(entry), nil
}

// VerifyWallet 账本回放审计
func (s *TokenService) VerifyWallet(ctx context.Context, userID string) (*domain.LedgerAudit, error) {
	if _, err := s.authorizeWallet(ctx, userID, auth.PermissionAdjustWallet); err != nil {
		return nil, toServiceError(err)
	}
	audit, err := s.wallets.VerifyWallet(ctx, userID)
	if err != nil {
		return nil, toServiceError(err)
	}
	if !audit.Consistent {
		s.log.WithContext(ctx).Errorf("ledger drift for %s: %v", userID, audit.Problems)
	}
	return audit, nil
}

// DeactivateWallet 停用钱包，仅 admin/billing
func (s *TokenService) DeactivateWallet(ctx context.Context, userID string) (*WalletReply, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, toServiceError(err)
	}
	if !s.rbac.CheckUserPermission(id.Roles, auth.PermissionAdjustWallet) {
		return nil, toServiceError(fmt.Errorf("%w: deactivate requires admin or billing role", domain.ErrForbidden))
	}
	wallet, err := s.wallets.DeactivateWallet(ctx, userID)
	if err != nil {
		return nil, toServiceError(err)
	}
	s.log.WithContext(ctx).Infof("wallet %s deactivated by %s", userID, id.UserID)
	return toWalletReply(wallet, nil), nil
}

// UpsertPolicy 创建或更新分配策略
func (s *TokenService) UpsertPolicy(ctx context.Context, req *PolicyRequest) (*PolicyReply, error) {
	policy := req.toDomain()
	if err := s.policies.UpsertPolicy(ctx, policy); err != nil {
		return nil, toServiceError(err)
	}
	return toPolicyReply(policy), nil
}

// ListPolicies 列出全部策略
func (s *TokenService) ListPolicies(ctx context.Context) ([]*PolicyReply, error) {
	policies, err := s.policies.ListPolicies(ctx)
	if err != nil {
		return nil, toServiceError(err)
	}
	out := make([]*PolicyReply, 0, len(policies))
	for _, p := range policies {
		out = append(out, toPolicyReply(p))
	}
	return out, nil
}

// tenantFor 请求未指定租户时使用调用方租户
func tenantFor(ctx context.Context, tenantID string) string {
	if tenantID != "" {
		return tenantID
	}
	if id, ok := middleware.IdentityFrom(ctx); ok {
		return id.TenantID
	}
	return ""
}

// RegisterWorker 注册或更新节点
func (s *TokenService) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*WorkerReply, error) {
	w, err := s.registry.RegisterWorker(ctx, tenantFor(ctx, req.TenantID), domain.WorkerDescriptor{
		WorkerID:   req.WorkerID,
		WorkerType: req.WorkerType,
		Capacity:   req.Capacity,
		Region:     req.Region,
		Tags:       req.Tags,
	})
	if err != nil {
		return nil, toServiceError(err)
	}
	return toWorkerReply(w, false), nil
}

// Heartbeat 节点心跳
func (s *TokenService) Heartbeat(ctx context.Context, workerID string) error {
	return toServiceError(s.registry.Heartbeat(ctx, workerID))
}

// UpdateHealth 上报健康分
func (s *TokenService) UpdateHealth(ctx context.Context, workerID string, score int) (*WorkerReply, error) {
	w, err := s.registry.UpdateHealthScore(ctx, workerID, score)
	if err != nil {
		return nil, toServiceError(err)
	}
	return toWorkerReply(w, s.registry.IsStale(w)), nil
}

// UpdateLoad 上报负载
func (s *TokenService) UpdateLoad(ctx context.Context, workerID string, load int) (*WorkerReply, error) {
	w, err := s.registry.UpdateLoad(ctx, workerID, load)
	if err != nil {
		return nil, toServiceError(err)
	}
	return toWorkerReply(w, s.registry.IsStale(w)), nil
}

// SetStatus 手工设置状态
func (s *TokenService) SetStatus(ctx context.Context, workerID, status string) (*WorkerReply, error) {
	w, err := s.registry.SetStatus(ctx, workerID, domain.WorkerStatus(status))
	if err != nil {
		return nil, toServiceError(err)
	}
	return toWorkerReply(w, s.registry.IsStale(w)), nil
}

// AvailableWorkers 可用节点（按负载率升序）
func (s *TokenService) AvailableWorkers(ctx context.Context, req *AvailableWorkersRequest) ([]*WorkerReply, error) {
	workers, err := s.registry.GetAvailableWorkers(ctx, tenantFor(ctx, req.TenantID), domain.AvailabilityFilter{
		WorkerType:     req.WorkerType,
		Region:         req.Region,
		MinHealthScore: req.MinHealthScore,
		MaxLoadPercent: req.MaxLoadPercent,
	})
	if err != nil {
		return nil, toServiceError(err)
	}
	out := make([]*WorkerReply, 0, len(workers))
	for _, w := range workers {
		out = append(out, toWorkerReply(w, s.registry.IsStale(w)))
	}
	return out, nil
}

// WorkerStats 聚合统计
func (s *TokenService) WorkerStats(ctx context.Context, tenantID string) (*domain.WorkerStats, error) {
	stats, err := s.registry.Stats(ctx, tenantFor(ctx, tenantID))
	if err != nil {
		return nil, toServiceError(err)
	}
	return stats, nil
}

// WorkerMetrics 路由计数
func (s *TokenService) WorkerMetrics(ctx context.Context, workerID string) (*domain.RoutingMetrics, error) {
	if _, err := s.registry.GetWorker(ctx, workerID); err != nil {
		return nil, toServiceError(err)
	}
	m, err := s.router.Metrics(ctx, workerID)
	if err != nil {
		return nil, toServiceError(err)
	}
	return m, nil
}

// Dispatch 为调用方执行一次计费任务
func (s *TokenService) Dispatch(ctx context.Context, req *DispatchRequest) (*ExecutionReply, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, toServiceError(err)
	}

	breq := &biz.DispatchRequest{
		UserID:   id.UserID,
		TenantID: id.TenantID,
		LevelID:  req.LevelID,
		Strategy: domain.RoutingStrategy(req.Strategy),
		Filter: domain.AvailabilityFilter{
			WorkerType:     req.WorkerType,
			Region:         req.Region,
			MinHealthScore: req.MinHealthScore,
			MaxLoadPercent: req.MaxLoadPercent,
		},
		Payload:         req.Payload,
		EstimatedTokens: req.EstimatedTokens,
	}

	var execution *domain.Execution
	if req.Async {
		execution, err = s.dispatcher.DispatchAsync(ctx, breq)
	} else {
		execution, err = s.dispatcher.Dispatch(ctx, breq)
	}
	if err != nil {
		if biz.IsAdmissionError(err) {
			s.log.WithContext(ctx).Infof("dispatch rejected for %s: %v", id.UserID, err)
		} else {
			s.log.WithContext(ctx).Errorf("dispatch failed for %s: %v", id.UserID, err)
		}
		return nil, toServiceError(err)
	}
	return toExecutionReply(execution), nil
}

// GetExecution 执行记录，本人或管理员可见
func (s *TokenService) GetExecution(ctx context.Context, executionID string) (*ExecutionReply, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, toServiceError(err)
	}
	execution, err := s.dispatcher.GetExecution(ctx, executionID)
	if err != nil {
		return nil, toServiceError(err)
	}
	if execution.UserID != id.UserID && !id.HasRole(string(auth.RoleAdmin)) {
		// 不暴露他人执行记录是否存在
		return nil, toServiceError(domain.ErrExecutionNotFound)
	}
	return toExecutionReply(execution), nil
}
