package biz

import (
	"context"
	"errors"
	"math/rand"

	"tokenrouter/cmd/token-router/internal/domain"
	"tokenrouter/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
)

// SelectWorker 按策略从候选节点中选择一个。并列时取先出现者。
// intn 返回 [0,n) 的随机数，仅 round_robin 使用。
func SelectWorker(candidates []*domain.Worker, strategy domain.RoutingStrategy, intn func(n int) int) (*domain.Worker, error) {
	if _, err := domain.ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoHealthyWorkers
	}

	var better func(a, b *domain.Worker) bool
	switch strategy {
	case domain.StrategyRoundRobin:
		if intn == nil {
			intn = rand.Intn
		}
		return candidates[intn(len(candidates))], nil
	case domain.StrategyLeastLoaded:
		better = func(a, b *domain.Worker) bool { return a.CurrentLoad < b.CurrentLoad }
	case domain.StrategyHealthBased:
		better = func(a, b *domain.Worker) bool { return a.HealthScore > b.HealthScore }
	case domain.StrategyCapacityAware:
		better = func(a, b *domain.Worker) bool { return a.LoadRatio() < b.LoadRatio() }
	}

	best := candidates[0]
	for _, w := range candidates[1:] {
		if better(w, best) {
			best = w
		}
	}
	return best, nil
}

// RoutingSelector 路由选择器
type RoutingSelector struct {
	registry *WorkerRegistry
	metrics  domain.RoutingMetricsRepository
	log      *log.Helper
	intn     func(n int) int
}

// NewRoutingSelector 创建路由选择器
func NewRoutingSelector(registry *WorkerRegistry, metrics domain.RoutingMetricsRepository, logger log.Logger) *RoutingSelector {
	return &RoutingSelector{
		registry: registry,
		metrics:  metrics,
		log:      log.NewHelper(log.With(logger, "module", "routing-selector")),
		intn:     rand.Intn,
	}
}

// Select 从给定候选中选择节点并记录路由计数
func (s *RoutingSelector) Select(ctx context.Context, candidates []*domain.Worker, strategy domain.RoutingStrategy) (*domain.Worker, error) {
	worker, err := SelectWorker(candidates, strategy, s.intn)
	if err != nil {
		reason := "no_healthy_workers"
		if errors.Is(err, domain.ErrInvalidStrategy) {
			reason = "invalid_strategy"
		}
		monitoring.RoutingFailuresTotal.WithLabelValues(string(strategy), reason).Inc()
		return nil, err
	}

	monitoring.RoutingDecisionsTotal.WithLabelValues(string(strategy), worker.WorkerID).Inc()
	if s.metrics != nil {
		if err := s.metrics.Increment(ctx, worker.WorkerID, strategy); err != nil {
			s.log.WithContext(ctx).Warnf("record routing metrics for %s failed: %v", worker.WorkerID, err)
		}
	}
	return worker, nil
}

// Route 查询可用节点快照并选择
func (s *RoutingSelector) Route(ctx context.Context, tenantID string, strategy domain.RoutingStrategy, filter domain.AvailabilityFilter) (*domain.Worker, error) {
	if _, err := domain.ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	candidates, err := s.registry.GetAvailableWorkers(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}

	worker, err := s.Select(ctx, candidates, strategy)
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Debugf("routed tenant=%s strategy=%s worker=%s load=%d/%d health=%d",
		tenantID, strategy, worker.WorkerID, worker.CurrentLoad, worker.Capacity, worker.HealthScore)
	return worker, nil
}

// Metrics 获取节点路由计数
func (s *RoutingSelector) Metrics(ctx context.Context, workerID string) (*domain.RoutingMetrics, error) {
	if s.metrics == nil {
		return &domain.RoutingMetrics{WorkerID: workerID, ByStrategy: map[domain.RoutingStrategy]int64{}}, nil
	}
	return s.metrics.Get(ctx, workerID)
}
