package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"otakumori-rewards/models"

	"github.com/segmentio/kafka-go"
)

// LedgerEventPublisher receives every committed ledger entry.
type LedgerEventPublisher interface {
	PublishLedgerEntry(ctx context.Context, entry models.PetalLedgerEntry, balance int64) error
}

// NoopLedgerPublisher drops events; used when no broker is configured.
type NoopLedgerPublisher struct{}

func (NoopLedgerPublisher) PublishLedgerEntry(context.Context, models.PetalLedgerEntry, int64) error {
	return nil
}

// LedgerEvent is the JSON payload written to the ledger topic.
type LedgerEvent struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	UserID     string            `json:"user_id"`
	EntryID    string            `json:"entry_id"`
	Type       models.LedgerType `json:"type"`
	Amount     int64             `json:"amount"`
	Delta      int64             `json:"delta"`
	ReasonCode string            `json:"reason_code"`
	Balance    int64             `json:"balance"`
	CreatedAt  time.Time         `json:"created_at"`
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaLedgerPublisher writes ledger events keyed by user id, so one user's
// events stay ordered within a partition.
type KafkaLedgerPublisher struct {
	Writer MessageWriter
}

func NewKafkaLedgerPublisher(w MessageWriter) *KafkaLedgerPublisher {
	return &KafkaLedgerPublisher{Writer: w}
}

func (p *KafkaLedgerPublisher) PublishLedgerEntry(ctx context.Context, entry models.PetalLedgerEntry, balance int64) error {
	event := LedgerEvent{
		EventID:    entry.ID,
		EventType:  "petal.ledger.appended",
		UserID:     entry.UserID,
		EntryID:    entry.ID,
		Type:       entry.Type,
		Amount:     entry.Amount,
		Delta:      entry.Delta,
		ReasonCode: entry.ReasonCode,
		Balance:    balance,
		CreatedAt:  entry.CreatedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.UserID),
		Value: data,
		Time:  entry.CreatedAt,
	}
	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish ledger event: %w", err)
	}
	return nil
}
