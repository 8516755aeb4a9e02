package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/sawafleet/collection-reconciler/internal/models"
)

// OutcomeTopic carries every decided reconciliation outcome, keyed by the
// payment's external reference so replays land in the same partition.
const OutcomeTopic = "reconciliation.outcome.decided"

// KafkaOutcomePublisher implements OutcomePublisher over a kafka writer.
type KafkaOutcomePublisher struct {
	writer *kafka.Writer
}

func NewKafkaOutcomePublisher(writer *kafka.Writer) *KafkaOutcomePublisher {
	return &KafkaOutcomePublisher{writer: writer}
}

func (p *KafkaOutcomePublisher) Publish(ctx context.Context, outcome *models.ReconciliationOutcome) error {
	value, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(outcome.ExternalRef),
		Value: value,
	})
}
