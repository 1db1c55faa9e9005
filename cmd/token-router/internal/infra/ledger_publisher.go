package infra

import (
	"context"
	"fmt"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/IBM/sarama"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventLedgerEntryAppended 账本追加事件
const EventLedgerEntryAppended = "ledger.entry.appended"

// LedgerPublisher 将账本记录发布到 Kafka。未配置 broker 时为空操作。
type LedgerPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *log.Helper
}

// NewLedgerPublisher 创建账本事件发布器
func NewLedgerPublisher(cfg KafkaConfig, logger log.Logger) (*LedgerPublisher, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "infra/ledger-publisher"))
	if !cfg.Enabled() || cfg.LedgerTopic == "" {
		helper.Info("ledger event publishing disabled")
		return &LedgerPublisher{log: helper}, func() {}, nil
	}

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Return.Errors = true
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	kafkaConfig.Producer.Compression = sarama.CompressionSnappy
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Version = sarama.V3_6_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := newLedgerPublisher(producer, cfg.LedgerTopic, logger)
	cleanup := func() {
		if err := producer.Close(); err != nil {
			helper.Errorf("close kafka producer: %v", err)
		}
	}
	return p, cleanup, nil
}

func newLedgerPublisher(producer sarama.SyncProducer, topic string, logger log.Logger) *LedgerPublisher {
	return &LedgerPublisher{
		producer: producer,
		topic:    topic,
		log:      log.NewHelper(log.With(logger, "module", "infra/ledger-publisher")),
	}
}

// PublishLedgerEntry 发布一条账本记录，按钱包 ID 分区保证顺序
func (p *LedgerPublisher) PublishLedgerEntry(_ context.Context, wallet *domain.Wallet, entry *domain.LedgerEntry) error {
	if p == nil || p.producer == nil {
		return nil
	}

	value, err := encodeLedgerEvent(wallet, entry)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(entry.WalletID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(EventLedgerEntryAppended)},
			{Key: []byte("tenant_id"), Value: []byte(wallet.TenantID)},
		},
		Timestamp: entry.CreatedAt,
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish ledger entry: %w", err)
	}
	return nil
}

func encodeLedgerEvent(wallet *domain.Wallet, entry *domain.LedgerEntry) ([]byte, error) {
	metadata := make(map[string]interface{}, len(entry.Metadata))
	for k, v := range entry.Metadata {
		metadata[k] = v
	}

	event, err := structpb.NewStruct(map[string]interface{}{
		"event_id":       uuid.New().String(),
		"event_type":     EventLedgerEntryAppended,
		"event_version":  "v1",
		"occurred_at":    entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		"tenant_id":      wallet.TenantID,
		"user_id":        entry.UserID,
		"wallet_id":      entry.WalletID,
		"entry_id":       entry.ID,
		"sequence":       entry.Sequence,
		"direction":      string(entry.Direction),
		"amount":         entry.Amount,
		"balance_after":  entry.BalanceAfter,
		"borrowed_after": entry.BorrowedAfter,
		"reason":         entry.Reason,
		"source":         string(entry.Source),
		"reference_type": entry.ReferenceType,
		"reference_id":   entry.ReferenceID,
		"metadata":       metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("build ledger event: %w", err)
	}

	value, err := proto.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return value, nil
}

// DecodeLedgerEvent 解码账本事件
func DecodeLedgerEvent(value []byte) (map[string]interface{}, error) {
	var event structpb.Struct
	if err := proto.Unmarshal(value, &event); err != nil {
		return nil, err
	}
	return event.AsMap(), nil
}
