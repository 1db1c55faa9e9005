package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// MaxRequests 半开状态允许的最大请求数
	MaxRequests uint32 `mapstructure:"max_requests"`
	// Interval 关闭状态下的统计周期
	Interval time.Duration `mapstructure:"interval"`
	// Timeout 打开后进入半开的等待时间
	Timeout time.Duration `mapstructure:"timeout"`
	// MinRequests 触发熔断的最小请求数
	MinRequests uint32 `mapstructure:"min_requests"`
	// FailureRatio 触发熔断的失败率
	FailureRatio float64 `mapstructure:"failure_ratio"`
	// OnStateChange 状态变化回调
	OnStateChange func(name string, from, to gobreaker.State) `mapstructure:"-"`
}

// DefaultBreakerConfig 默认配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  3,
		Interval:     10 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// NewBreaker 创建 gobreaker 熔断器
func NewBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: cfg.OnStateChange,
	})
}

// IsBreakerOpen 熔断器拒绝了请求
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
