package biz

import (
	"context"
	"sync"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultSweepBatch = 200

// AllocationScheduler 周期发放调度器，定期为到期钱包执行结转
type AllocationScheduler struct {
	wallets  domain.WalletRepository
	usecase  *WalletUsecase
	interval time.Duration
	batch    int
	log      *log.Helper

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewAllocationScheduler 创建发放调度器
func NewAllocationScheduler(wallets domain.WalletRepository, usecase *WalletUsecase, interval time.Duration, logger log.Logger) *AllocationScheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &AllocationScheduler{
		wallets:  wallets,
		usecase:  usecase,
		interval: interval,
		batch:    defaultSweepBatch,
		log:      log.NewHelper(log.With(logger, "module", "allocation-scheduler")),
		stopChan: make(chan struct{}),
	}
}

// Start 启动调度（实现 transport.Server）
func (s *AllocationScheduler) Start(ctx context.Context) error {
	s.log.Infof("starting allocation scheduler: interval=%s", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Errorf("allocation sweep failed: %v", err)
			}
		case <-s.stopChan:
			s.log.Info("allocation scheduler stopped")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop 停止调度
func (s *AllocationScheduler) Stop(_ context.Context) error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	return nil
}

// RunOnce 执行一轮扫描，返回完成结转的钱包数
func (s *AllocationScheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.wallets.ListDueForReset(ctx, s.usecase.now(), s.batch)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, w := range due {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}

		result, err := s.usecase.ApplyRollover(ctx, w.UserID)
		if err != nil {
			s.log.WithContext(ctx).Errorf("rollover for user=%s failed: %v", w.UserID, err)
			continue
		}
		if result.Applied {
			applied++
		}
	}

	if applied > 0 {
		s.log.WithContext(ctx).Infof("allocation sweep applied %d of %d due wallets", applied, len(due))
	}
	return applied, nil
}
