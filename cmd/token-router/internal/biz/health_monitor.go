package biz

import (
	"context"
	"sync"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"
	"tokenrouter/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
)

// HealthMonitor 节点健康巡检器。只报告心跳过期，不修改节点状态。
type HealthMonitor struct {
	repo       domain.WorkerRepository
	interval   time.Duration
	staleAfter time.Duration
	log        *log.Helper
	now        func() time.Time

	mu       sync.RWMutex
	last     *domain.WorkerStats
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewHealthMonitor 创建健康巡检器
func NewHealthMonitor(repo domain.WorkerRepository, interval, staleAfter time.Duration, logger log.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = domain.DefaultStaleAfter
	}
	return &HealthMonitor{
		repo:       repo,
		interval:   interval,
		staleAfter: staleAfter,
		log:        log.NewHelper(log.With(logger, "module", "health-monitor")),
		now:        func() time.Time { return time.Now().UTC() },
		stopChan:   make(chan struct{}),
	}
}

// Start 启动巡检（实现 transport.Server）
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.log.Infof("starting health monitor: interval=%s stale_after=%s", m.interval, m.staleAfter)

	m.Sweep(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-m.stopChan:
			m.log.Info("health monitor stopped")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop 停止巡检
func (m *HealthMonitor) Stop(_ context.Context) error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	return nil
}

// Sweep 执行一次巡检，返回过期的节点
func (m *HealthMonitor) Sweep(ctx context.Context) []*domain.Worker {
	workers, err := m.repo.List(ctx, domain.WorkerFilter{})
	if err != nil {
		m.log.WithContext(ctx).Errorf("list workers failed: %v", err)
		return nil
	}

	now := m.now()
	stats := summarize(workers, now, m.staleAfter)

	var stale []*domain.Worker
	for _, w := range workers {
		if w.IsStale(now, m.staleAfter) {
			stale = append(stale, w)
			m.log.WithContext(ctx).Warnf("worker %s heartbeat stale: last=%s status=%s",
				w.WorkerID, w.LastHeartbeat.Format(time.RFC3339), w.Status)
		}
	}

	monitoring.WorkersByState.WithLabelValues(string(domain.WorkerStatusActive)).Set(float64(stats.Active))
	monitoring.WorkersByState.WithLabelValues(string(domain.WorkerStatusInactive)).Set(float64(stats.Inactive))
	monitoring.WorkersByState.WithLabelValues(string(domain.WorkerStatusMaintenance)).Set(float64(stats.Maintenance))
	monitoring.WorkersByState.WithLabelValues(string(domain.WorkerStatusError)).Set(float64(stats.Error))
	monitoring.WorkersByState.WithLabelValues("stale").Set(float64(stats.Stale))

	m.mu.Lock()
	m.last = stats
	m.mu.Unlock()

	return stale
}

// LastStats 最近一次巡检结果
func (m *HealthMonitor) LastStats() (*domain.WorkerStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.last == nil {
		return nil, false
	}
	s := *m.last
	return &s, true
}
