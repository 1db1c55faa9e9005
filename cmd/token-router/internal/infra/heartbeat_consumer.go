package infra

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	HeartbeatTopic string   `mapstructure:"heartbeat_topic"`
	GroupID        string   `mapstructure:"group_id"`
	LedgerTopic    string   `mapstructure:"ledger_topic"`
}

// Enabled 是否配置了 broker
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// HeartbeatSink 接收心跳的节点注册表
type HeartbeatSink interface {
	Heartbeat(ctx context.Context, workerID string) error
	UpdateHealthScore(ctx context.Context, workerID string, score int) (*domain.Worker, error)
	UpdateLoad(ctx context.Context, workerID string, load int) (*domain.Worker, error)
}

// HeartbeatMessage 心跳消息
type HeartbeatMessage struct {
	WorkerID    string `json:"worker_id"`
	HealthScore *int   `json:"health_score,omitempty"`
	CurrentLoad *int   `json:"current_load,omitempty"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// HeartbeatConsumer 从 Kafka 消费节点心跳
type HeartbeatConsumer struct {
	reader messageReader
	sink   HeartbeatSink
	log    *log.Helper

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  bool
	stopOnce sync.Once
}

// NewHeartbeatConsumer 创建心跳消费者
func NewHeartbeatConsumer(cfg KafkaConfig, sink HeartbeatSink, logger log.Logger) *HeartbeatConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.HeartbeatTopic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return newHeartbeatConsumer(reader, sink, logger)
}

func newHeartbeatConsumer(reader messageReader, sink HeartbeatSink, logger log.Logger) *HeartbeatConsumer {
	return &HeartbeatConsumer{
		reader: reader,
		sink:   sink,
		log:    log.NewHelper(log.With(logger, "module", "infra/heartbeat-consumer")),
	}
}

// Start 开始消费（实现 transport.Server）
func (c *HeartbeatConsumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.log.Info("starting heartbeat consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("heartbeat consumer stopped")
				return nil
			}
			c.log.Errorf("fetch heartbeat: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if err := c.handle(ctx, msg.Value); err != nil {
			c.log.Errorf("process heartbeat offset=%d: %v", msg.Offset, err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Errorf("commit heartbeat offset=%d: %v", msg.Offset, err)
		}
	}
}

// Stop 停止消费
func (c *HeartbeatConsumer) Stop(_ context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		err = c.reader.Close()
	})
	return err
}

// handle 处理单条消息。格式错误和未知节点直接丢弃。
func (c *HeartbeatConsumer) handle(ctx context.Context, value []byte) error {
	var hb HeartbeatMessage
	if err := json.Unmarshal(value, &hb); err != nil {
		c.log.Warnf("drop malformed heartbeat: %v", err)
		return nil
	}
	if hb.WorkerID == "" {
		c.log.Warn("drop heartbeat without worker_id")
		return nil
	}

	err := c.apply(ctx, &hb)
	if errors.Is(err, domain.ErrWorkerNotFound) ||
		errors.Is(err, domain.ErrInvalidHealthScore) ||
		errors.Is(err, domain.ErrInvalidLoad) {
		c.log.Warnf("drop heartbeat for %s: %v", hb.WorkerID, err)
		return nil
	}
	return err
}

func (c *HeartbeatConsumer) apply(ctx context.Context, hb *HeartbeatMessage) error {
	if err := c.sink.Heartbeat(ctx, hb.WorkerID); err != nil {
		return err
	}
	if hb.HealthScore != nil {
		if _, err := c.sink.UpdateHealthScore(ctx, hb.WorkerID, *hb.HealthScore); err != nil {
			return err
		}
	}
	if hb.CurrentLoad != nil {
		if _, err := c.sink.UpdateLoad(ctx, hb.WorkerID, *hb.CurrentLoad); err != nil {
			return err
		}
	}
	return nil
}
