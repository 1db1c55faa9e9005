package biz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"
	"tokenrouter/pkg/monitoring"
	"tokenrouter/pkg/observability"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "token-router/dispatcher"

// ExecutionEngine 外部执行引擎
type ExecutionEngine interface {
	Execute(ctx context.Context, req *domain.EngineRequest) (*domain.EngineResult, error)
}

// ExecutionLogger 执行日志分析落库
type ExecutionLogger interface {
	LogExecution(ctx context.Context, execution *domain.Execution) error
}

// DispatcherConfig 调度配置
type DispatcherConfig struct {
	DefaultStrategy   domain.RoutingStrategy
	DefaultMinReserve int64
	RefundOnFailure   bool
	ExecutionTimeout  time.Duration
}

// DispatchRequest 调度请求
type DispatchRequest struct {
	UserID          string
	TenantID        string
	LevelID         string
	Strategy        domain.RoutingStrategy
	Filter          domain.AvailabilityFilter
	Payload         map[string]interface{}
	EstimatedTokens int64
}

// Dispatcher 执行调度器：准入检查 → 路由 → 执行 → 计费
type Dispatcher struct {
	wallets    *WalletUsecase
	policies   *PolicyEngine
	registry   *WorkerRegistry
	router     *RoutingSelector
	executions domain.ExecutionRepository
	engine     ExecutionEngine
	execLog    ExecutionLogger
	cfg        DispatcherConfig
	log        *log.Helper
	now        func() time.Time
}

// NewDispatcher 创建调度器。execLog 可以为 nil。
func NewDispatcher(
	wallets *WalletUsecase,
	policies *PolicyEngine,
	registry *WorkerRegistry,
	router *RoutingSelector,
	executions domain.ExecutionRepository,
	engine ExecutionEngine,
	execLog ExecutionLogger,
	cfg DispatcherConfig,
	logger log.Logger,
) *Dispatcher {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = domain.StrategyCapacityAware
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 5 * time.Minute
	}
	return &Dispatcher{
		wallets:    wallets,
		policies:   policies,
		registry:   registry,
		router:     router,
		executions: executions,
		engine:     engine,
		execLog:    execLog,
		cfg:        cfg,
		log:        log.NewHelper(log.With(logger, "module", "dispatcher")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch 同步执行，返回已结束的执行记录
func (d *Dispatcher) Dispatch(ctx context.Context, req *DispatchRequest) (*domain.Execution, error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "Dispatch")
	defer span.End()

	execution, err := d.admit(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.SetAttributes(span,
		attribute.String("execution.id", execution.ID),
		attribute.String("worker.id", execution.WorkerID),
		attribute.String("routing.strategy", string(execution.Strategy)),
	)

	if err := d.run(ctx, execution); err != nil {
		observability.RecordError(span, err)
		return execution, err
	}
	return execution, nil
}

// DispatchAsync 准入并路由后立即返回运行中的记录，执行在后台完成
func (d *Dispatcher) DispatchAsync(ctx context.Context, req *DispatchRequest) (*domain.Execution, error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "DispatchAsync")
	defer span.End()

	execution, err := d.admit(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	handle := execution.Clone()

	bg := context.WithoutCancel(ctx)
	go func() {
		if err := d.run(bg, execution); err != nil {
			d.log.WithContext(bg).Errorf("async execution %s: %v", execution.ID, err)
		}
	}()
	return handle, nil
}

// GetExecution 获取执行记录
func (d *Dispatcher) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	return d.executions.Get(ctx, id)
}

// admit 完成准入检查、路由并落库运行中的执行记录
func (d *Dispatcher) admit(ctx context.Context, req *DispatchRequest) (*domain.Execution, error) {
	if req.EstimatedTokens < 0 {
		return nil, fmt.Errorf("%w: estimate %d", domain.ErrInvalidAmount, req.EstimatedTokens)
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = d.cfg.DefaultStrategy
	}
	if _, err := domain.ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	wallet, err := d.wallets.EnsureWallet(ctx, req.UserID, req.TenantID, req.LevelID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive() {
		return nil, domain.ErrWalletInactive
	}

	policy, err := d.policies.GetPolicyFor(ctx, req.UserID, wallet.LevelID)
	if err != nil {
		return nil, err
	}
	if !policy.AllowsBorrowing() {
		floor := max(d.minReserve(policy), req.EstimatedTokens)
		if wallet.Available() < floor {
			monitoring.WalletRejectionsTotal.WithLabelValues("reserve").Inc()
			return nil, fmt.Errorf("%w: available %d, required %d", domain.ErrInsufficientTokens, wallet.Available(), floor)
		}
	}

	worker, err := d.router.Route(ctx, req.TenantID, strategy, req.Filter)
	if err != nil {
		return nil, err
	}

	execution := domain.NewExecution(wallet, worker, strategy, req.Payload, req.EstimatedTokens)
	execution.StartedAt = d.now()
	if err := d.executions.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	if err := d.registry.AdjustLoad(ctx, worker.WorkerID, 1); err != nil {
		d.log.WithContext(ctx).Warnf("increment load on %s failed: %v", worker.WorkerID, err)
	}

	d.log.WithContext(ctx).Infof("execution %s dispatched: user=%s worker=%s strategy=%s",
		execution.ID, execution.UserID, execution.WorkerID, strategy)
	return execution, nil
}

func (d *Dispatcher) minReserve(policy *domain.AllocationPolicy) int64 {
	if policy != nil && policy.MinExecutionReserve > 0 {
		return policy.MinExecutionReserve
	}
	return d.cfg.DefaultMinReserve
}

// run 调用执行引擎并结算
func (d *Dispatcher) run(ctx context.Context, execution *domain.Execution) error {
	ctx, span := observability.StartSpan(ctx, tracerName, "Execute")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ExecutionTimeout)
	result, callErr := d.engine.Execute(callCtx, &domain.EngineRequest{
		ExecutionID: execution.ID,
		WorkerID:    execution.WorkerID,
		TenantID:    execution.TenantID,
		UserID:      execution.UserID,
		Payload:     execution.Payload,
	})
	cancel()

	if err := d.registry.AdjustLoad(ctx, execution.WorkerID, -1); err != nil {
		d.log.WithContext(ctx).Warnf("decrement load on %s failed: %v", execution.WorkerID, err)
	}

	now := d.now()
	if callErr != nil {
		d.log.WithContext(ctx).Errorf("execution %s engine call failed: %v", execution.ID, callErr)
		observability.RecordError(span, callErr)
		execution.Fail(callErr, 0, now)
	} else {
		execution.Complete(result, now)
	}

	settleErr := d.settle(ctx, execution)
	if settleErr != nil {
		observability.RecordError(span, settleErr)
	}

	if err := d.executions.Update(ctx, execution); err != nil {
		d.log.WithContext(ctx).Errorf("update execution %s failed: %v", execution.ID, err)
	}

	monitoring.ExecutionsTotal.WithLabelValues(string(execution.Status)).Inc()
	monitoring.ExecutionTokens.Observe(float64(execution.TokensConsumed))
	observability.SetAttributes(span,
		attribute.String("execution.status", string(execution.Status)),
		attribute.Int64("execution.tokens", execution.TokensConsumed),
	)

	if d.execLog != nil {
		if err := d.execLog.LogExecution(ctx, execution); err != nil {
			d.log.WithContext(ctx).Warnf("write execution log %s failed: %v", execution.ID, err)
		}
	}

	d.log.WithContext(ctx).Infof("execution %s finished: status=%s tokens=%d duration=%s",
		execution.ID, execution.Status, execution.TokensConsumed, execution.Duration())
	return settleErr
}

// settle 按实际消耗扣费；失败时按配置退款
func (d *Dispatcher) settle(ctx context.Context, execution *domain.Execution) error {
	if execution.TokensConsumed <= 0 {
		return nil
	}

	ref := AdjustOptions{
		Source:        domain.SourceExecution,
		ReferenceType: "execution",
		ReferenceID:   execution.ID,
		Metadata: map[string]string{
			"worker_id": execution.WorkerID,
			"strategy":  string(execution.Strategy),
			"status":    string(execution.Status),
		},
	}
	entry, err := d.wallets.AdjustTokens(ctx, execution.UserID, execution.TokensConsumed,
		domain.DirectionDebit, domain.ReasonExecution, ref)
	if err != nil {
		d.log.WithContext(ctx).Errorf("debit for execution %s failed: %v", execution.ID, err)
		execution.Status = domain.ExecutionFailed
		execution.Error = err.Error()
		return fmt.Errorf("debit execution %s: %w", execution.ID, err)
	}
	execution.LedgerEntryID = entry.ID

	if execution.Status != domain.ExecutionFailed || !d.cfg.RefundOnFailure {
		return nil
	}

	refund, err := d.wallets.AdjustTokens(ctx, execution.UserID, entry.Amount,
		domain.DirectionCredit, domain.ReasonExecutionRefund, AdjustOptions{
			Source:        domain.SourceRefund,
			ReferenceType: "execution",
			ReferenceID:   execution.ID,
			Metadata:      map[string]string{"refunds_entry": entry.ID, "refunds_seq": strconv.FormatInt(entry.Sequence, 10)},
		})
	if err != nil {
		// 扣费已落账，退款失败只记录
		d.log.WithContext(ctx).Errorf("refund for execution %s failed: %v", execution.ID, err)
		return nil
	}
	d.log.WithContext(ctx).Infof("execution %s refunded %d tokens: entry=%s", execution.ID, refund.Amount, refund.ID)
	return nil
}

// IsAdmissionError 判断错误是否属于准入拒绝（非系统故障）
func IsAdmissionError(err error) bool {
	return errors.Is(err, domain.ErrInsufficientTokens) ||
		errors.Is(err, domain.ErrWalletInactive) ||
		errors.Is(err, domain.ErrNoHealthyWorkers) ||
		errors.Is(err, domain.ErrInvalidStrategy)
}
