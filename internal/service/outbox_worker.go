package service

import (
	"context"
	"encoding/json"
	"time"

	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	"recoverflow/internal/transport"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
)

// OutboxWorker relays pending outbox events downstream and to the live hub.
type OutboxWorker struct {
	outbox    repository.OutboxInterface
	publisher transport.EventPublisher
	hub       *Hub
	interval  time.Duration
	batchSize int
	maxRetry  int
}

func NewOutboxWorker(outbox repository.OutboxInterface, publisher transport.EventPublisher, hub *Hub, interval time.Duration, batchSize, maxRetry int) *OutboxWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxWorker{
		outbox:    outbox,
		publisher: publisher,
		hub:       hub,
		interval:  interval,
		batchSize: batchSize,
		maxRetry:  maxRetry,
	}
}

func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			w.ProcessPending(ctx)
		}
	}
}

// ProcessPending relays one batch of events in id order. It stops at the
// first event that cannot be published so later events of the same
// aggregate do not overtake it.
func (w *OutboxWorker) ProcessPending(ctx context.Context) {
	events, err := w.outbox.FetchPending(ctx, w.batchSize)
	if err != nil {
		logger.Error("failed to fetch pending outbox events", zap.Error(err))
		return
	}

	for _, row := range events {
		logger.Debug("relaying outbox event", zap.Int64("id", row.ID), zap.String("type", row.EventType))

		var e v1.Event
		if err := json.Unmarshal([]byte(row.Payload), &e); err != nil {
			logger.Error("failed to unmarshal outbox payload", zap.Int64("id", row.ID), zap.Error(err))
			// corrupt payload will never publish
			w.outbox.UpdateStatus(ctx, row.ID, model.StatusFailed, row.RetryCount)
			continue
		}
		e.Seq = row.ID

		if err := w.publisher.PublishEvent(ctx, e); err != nil {
			logger.Warn("failed to publish outbox event", zap.Int64("id", row.ID), zap.Error(err))
			retries := row.RetryCount + 1
			if retries >= w.maxRetry {
				logger.Error("outbox event max retries reached", zap.Int64("id", row.ID))
				w.outbox.UpdateStatus(ctx, row.ID, model.StatusFailed, retries)
				continue
			}
			w.outbox.UpdateStatus(ctx, row.ID, model.StatusPending, retries)
			return
		}

		if err := w.outbox.UpdateStatus(ctx, row.ID, model.StatusCompleted, row.RetryCount); err != nil {
			logger.Error("failed to mark outbox event completed", zap.Int64("id", row.ID), zap.Error(err))
			return
		}
		if w.hub != nil {
			if err := w.hub.Publish(ctx, e); err != nil {
				return
			}
		}
	}
}
