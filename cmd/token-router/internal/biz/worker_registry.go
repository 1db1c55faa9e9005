package biz

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
)

// WorkerRegistry 执行节点注册中心
type WorkerRegistry struct {
	repo       domain.WorkerRepository
	staleAfter time.Duration
	log        *log.Helper
	now        func() time.Time
}

// NewWorkerRegistry 创建节点注册中心
func NewWorkerRegistry(repo domain.WorkerRepository, staleAfter time.Duration, logger log.Logger) *WorkerRegistry {
	if staleAfter <= 0 {
		staleAfter = domain.DefaultStaleAfter
	}
	return &WorkerRegistry{
		repo:       repo,
		staleAfter: staleAfter,
		log:        log.NewHelper(log.With(logger, "module", "worker-registry")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterWorker 注册或刷新节点
func (r *WorkerRegistry) RegisterWorker(ctx context.Context, tenantID string, d domain.WorkerDescriptor) (*domain.Worker, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	worker, err := r.repo.Upsert(ctx, domain.NewWorker(tenantID, d, r.now()))
	if err != nil {
		return nil, fmt.Errorf("register worker: %w", err)
	}

	r.log.WithContext(ctx).Infof("worker registered: id=%s type=%s capacity=%d region=%s",
		worker.WorkerID, worker.WorkerType, worker.Capacity, worker.Region)
	return worker, nil
}

// Heartbeat 刷新心跳时间
func (r *WorkerRegistry) Heartbeat(ctx context.Context, workerID string) error {
	if workerID == "" {
		return domain.ErrInvalidWorkerID
	}
	return r.repo.Touch(ctx, workerID, r.now())
}

// UpdateHealthScore 更新健康分，并按阈值推导状态
func (r *WorkerRegistry) UpdateHealthScore(ctx context.Context, workerID string, score int) (*domain.Worker, error) {
	if err := domain.ValidateHealthScore(score); err != nil {
		return nil, err
	}

	status := domain.StatusForHealth(score)
	worker, err := r.repo.UpdateHealth(ctx, workerID, score, status, r.now())
	if err != nil {
		return nil, err
	}

	if status != domain.WorkerStatusActive {
		r.log.WithContext(ctx).Warnf("worker %s degraded: health=%d status=%s", workerID, score, status)
	}
	return worker, nil
}

// SetStatus 手动设置状态
func (r *WorkerRegistry) SetStatus(ctx context.Context, workerID string, status domain.WorkerStatus) (*domain.Worker, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	worker, err := r.repo.UpdateStatus(ctx, workerID, status, r.now())
	if err != nil {
		return nil, err
	}
	r.log.WithContext(ctx).Infof("worker %s status set to %s", workerID, status)
	return worker, nil
}

// UpdateLoad 设置当前负载（绝对值）
func (r *WorkerRegistry) UpdateLoad(ctx context.Context, workerID string, load int) (*domain.Worker, error) {
	if load < 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidLoad, load)
	}
	return r.repo.SetLoad(ctx, workerID, load, r.now())
}

// AdjustLoad 增减负载
func (r *WorkerRegistry) AdjustLoad(ctx context.Context, workerID string, delta int) error {
	return r.repo.AdjustLoad(ctx, workerID, delta, r.now())
}

// GetWorker 获取节点
func (r *WorkerRegistry) GetWorker(ctx context.Context, workerID string) (*domain.Worker, error) {
	return r.repo.Get(ctx, workerID)
}

// GetAvailableWorkers 查询可用节点，按负载率升序、健康分降序排列
func (r *WorkerRegistry) GetAvailableWorkers(ctx context.Context, tenantID string, filter domain.AvailabilityFilter) ([]*domain.Worker, error) {
	filter = filter.WithDefaults()

	workers, err := r.repo.List(ctx, domain.WorkerFilter{
		TenantID:       tenantID,
		WorkerType:     filter.WorkerType,
		Region:         filter.Region,
		Status:         domain.WorkerStatusActive,
		MinHealthScore: filter.MinHealthScore,
	})
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	available := workers[:0]
	for _, w := range workers {
		if filter.Accepts(w) {
			available = append(available, w)
		}
	}

	sort.SliceStable(available, func(i, j int) bool {
		ri, rj := available[i].LoadRatio(), available[j].LoadRatio()
		if ri != rj {
			return ri < rj
		}
		return available[i].HealthScore > available[j].HealthScore
	})
	return available, nil
}

// Stats 节点聚合统计
func (r *WorkerRegistry) Stats(ctx context.Context, tenantID string) (*domain.WorkerStats, error) {
	workers, err := r.repo.List(ctx, domain.WorkerFilter{TenantID: tenantID})
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return summarize(workers, r.now(), r.staleAfter), nil
}

// IsStale 判断节点心跳是否过期
func (r *WorkerRegistry) IsStale(w *domain.Worker) bool {
	return w.IsStale(r.now(), r.staleAfter)
}

func summarize(workers []*domain.Worker, now time.Time, staleAfter time.Duration) *domain.WorkerStats {
	stats := &domain.WorkerStats{}
	for _, w := range workers {
		stats.Total++
		switch w.Status {
		case domain.WorkerStatusActive:
			stats.Active++
		case domain.WorkerStatusInactive:
			stats.Inactive++
		case domain.WorkerStatusMaintenance:
			stats.Maintenance++
		case domain.WorkerStatusError:
			stats.Error++
		}
		if w.IsStale(now, staleAfter) {
			stats.Stale++
		}
		stats.TotalCapacity += int64(w.Capacity)
		stats.TotalLoad += int64(w.CurrentLoad)
	}
	return stats
}
