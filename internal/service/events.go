package service

import (
	"context"
	"encoding/json"

	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
)

// EventBus publishes domain events. Delivery is at least once and events of
// one aggregate keep their publish order.
type EventBus interface {
	Publish(ctx context.Context, e v1.Event) error
}

// OutboxBus writes events to the outbox table; OutboxWorker relays them.
type OutboxBus struct {
	outbox repository.OutboxInterface
}

func NewOutboxBus(outbox repository.OutboxInterface) *OutboxBus {
	return &OutboxBus{outbox: outbox}
}

func (b *OutboxBus) Publish(ctx context.Context, e v1.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.outbox.Create(ctx, &model.OutboxEvent{
		EventType:   e.Type,
		AggregateID: e.AggregateID,
		Payload:     string(raw),
		Status:      model.StatusPending,
		TraceID:     GetTraceID(ctx),
	})
}

// publish emits an event after the state change it describes has been
// committed. A failure is logged; the state change stands.
func publish(ctx context.Context, bus EventBus, eventType, aggregateID string, payload any) {
	e, err := v1.NewEvent(eventType, aggregateID, payload)
	if err != nil {
		logger.Error("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := bus.Publish(ctx, e); err != nil {
		logger.Error("failed to publish event",
			zap.String("type", eventType),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
	}
}
