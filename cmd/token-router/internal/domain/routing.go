package domain

import "fmt"

// RoutingStrategy 路由策略
type RoutingStrategy string

const (
	StrategyRoundRobin    RoutingStrategy = "round_robin"    // 均匀随机选择
	StrategyLeastLoaded   RoutingStrategy = "least_loaded"   // 当前负载最小
	StrategyHealthBased   RoutingStrategy = "health_based"   // 健康分最高
	StrategyCapacityAware RoutingStrategy = "capacity_aware" // 负载率最低
)

// ParseStrategy 解析策略名称
func ParseStrategy(s string) (RoutingStrategy, error) {
	switch st := RoutingStrategy(s); st {
	case StrategyRoundRobin, StrategyLeastLoaded, StrategyHealthBased, StrategyCapacityAware:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
}

// RoutingMetrics 节点路由计数（仅供参考，非权威数据）
type RoutingMetrics struct {
	WorkerID   string                    `json:"worker_id"`
	Total      int64                     `json:"total"`
	ByStrategy map[RoutingStrategy]int64 `json:"by_strategy"`
}
