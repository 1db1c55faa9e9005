package data

import (
	"context"
	"fmt"
	"strconv"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	routingMetricsPrefix = "routing:metrics:"
	routingTotalField    = "total"
)

// routingMetricsRepo 路由计数（Redis 哈希，HINCRBY 原子累加）
type routingMetricsRepo struct {
	rdb *redis.Client
	log *log.Helper
}

func newRoutingMetricsRepo(rdb *redis.Client, logger log.Logger) *routingMetricsRepo {
	return &routingMetricsRepo{rdb: rdb, log: log.NewHelper(log.With(logger, "module", "data/routing-metrics"))}
}

func routingMetricsKey(workerID string) string {
	return routingMetricsPrefix + workerID
}

// Increment 累加节点总数与策略计数
func (r *routingMetricsRepo) Increment(ctx context.Context, workerID string, strategy domain.RoutingStrategy) error {
	key := routingMetricsKey(workerID)
	pipe := r.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, routingTotalField, 1)
	pipe.HIncrBy(ctx, key, string(strategy), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment routing metrics: %w", err)
	}
	return nil
}

// Get 读取节点计数
func (r *routingMetricsRepo) Get(ctx context.Context, workerID string) (*domain.RoutingMetrics, error) {
	fields, err := r.rdb.HGetAll(ctx, routingMetricsKey(workerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get routing metrics: %w", err)
	}

	out := &domain.RoutingMetrics{WorkerID: workerID, ByStrategy: make(map[domain.RoutingStrategy]int64)}
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			r.log.WithContext(ctx).Warnf("skip malformed routing counter %s.%s=%q", workerID, field, raw)
			continue
		}
		if field == routingTotalField {
			out.Total = n
			continue
		}
		out.ByStrategy[domain.RoutingStrategy(field)] = n
	}
	return out, nil
}
