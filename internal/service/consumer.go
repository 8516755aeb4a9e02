package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sawafleet/collection-reconciler/internal/models"
	"github.com/sawafleet/collection-reconciler/internal/telemetry"
)

// PaymentTopic is the primary ingestion path: one message per M-Pesa
// notification, produced by the webhook gateway.
const PaymentTopic = "payments.mpesa.received"

const consumerGroup = "collection-reconciler"

// ConsumePaymentEvents reads payment events from Kafka and runs each through
// the pipeline. It blocks until the context is canceled.
func (r *Resolver) ConsumePaymentEvents(ctx context.Context, brokers string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{brokers},
		Topic:    PaymentTopic,
		GroupID:  consumerGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	telemetry.Logger.Info("Started consuming payment events",
		zap.String("topic", PaymentTopic),
	)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			telemetry.Logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		var event models.PaymentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			telemetry.Logger.Error("Error unmarshaling payment event",
				zap.ByteString("key", msg.Key),
				zap.Error(err),
			)
			continue
		}

		outcome, err := r.Reconcile(ctx, &event)
		switch {
		case errors.Is(err, ErrInFlight):
			telemetry.Logger.Info("Duplicate delivery in flight, skipping",
				zap.String("external_ref", event.ExternalRef),
			)
		case errors.Is(err, models.ErrInvalidInput):
			telemetry.Logger.Error("Dropping invalid payment event",
				zap.ByteString("key", msg.Key),
				zap.Error(err),
			)
		case err != nil:
			telemetry.Logger.Error("Error processing payment event",
				zap.String("external_ref", event.ExternalRef),
				zap.Error(err),
			)
		default:
			telemetry.Logger.Info("Payment event processed",
				zap.String("external_ref", event.ExternalRef),
				zap.String("status", string(outcome.Status)),
			)
		}
	}
}
