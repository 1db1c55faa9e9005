package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokenrouter/cmd/token-router/internal/domain"

	"github.com/IBM/sarama/mocks"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry() (*domain.Wallet, *domain.LedgerEntry) {
	w := domain.NewWallet("u1", "t1", "free")
	e := &domain.LedgerEntry{
		ID:           "le_1",
		WalletID:     w.ID,
		UserID:       "u1",
		Sequence:     7,
		Direction:    domain.DirectionDebit,
		Amount:       120,
		BalanceAfter: 880,
		Reason:       "execution",
		Source:       domain.SourceExecution,
		ReferenceID:  "exec_1",
		Metadata:     map[string]string{"overdraft": "true"},
		CreatedAt:    time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
	return w, e
}

func TestLedgerPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	w, e := sampleEntry()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		event, err := DecodeLedgerEvent(val)
		if err != nil {
			return err
		}
		if event["event_type"] != EventLedgerEntryAppended || event["sequence"] != float64(7) {
			return errors.New("unexpected event")
		}
		if event["metadata"].(map[string]interface{})["overdraft"] != "true" {
			return errors.New("metadata missing")
		}
		return nil
	})

	p := newLedgerPublisher(producer, "ledger.events", log.DefaultLogger)
	require.NoError(t, p.PublishLedgerEntry(context.Background(), w, e))
	require.NoError(t, producer.Close())
}

func TestLedgerPublisher_SendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	w, e := sampleEntry()
	p := newLedgerPublisher(producer, "ledger.events", log.DefaultLogger)
	assert.Error(t, p.PublishLedgerEntry(context.Background(), w, e))
	require.NoError(t, producer.Close())
}

func TestLedgerPublisher_DisabledIsNoop(t *testing.T) {
	p, cleanup, err := NewLedgerPublisher(KafkaConfig{}, log.DefaultLogger)
	require.NoError(t, err)
	defer cleanup()

	w, e := sampleEntry()
	assert.NoError(t, p.PublishLedgerEntry(context.Background(), w, e))
}
