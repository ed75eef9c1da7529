package service

import (
	"context"
	"errors"
	"time"

	"recoverflow/internal/transport"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Ingester interface {
	Ingest(ctx context.Context, n v1.FailureNotification) (IngestResult, error)
}

// IngestionConsumer feeds notifications from the broker into the ingestion
// service. A delivery is acked only after it was ingested; anything else is
// left for broker redelivery.
type IngestionConsumer struct {
	receiver    transport.Receiver
	ingester    Ingester
	concurrency int
}

func NewIngestionConsumer(receiver transport.Receiver, ingester Ingester, concurrency int) *IngestionConsumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &IngestionConsumer{receiver: receiver, ingester: ingester, concurrency: concurrency}
}

func (c *IngestionConsumer) Run(ctx context.Context) {
	logger.Info("ingestion consumer started", zap.Int("concurrency", c.concurrency))
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			logger.Info("ingestion consumer stopped")
			return
		}
		err := c.Poll(ctx)
		if err == nil {
			backoff = 100 * time.Millisecond
			continue
		}
		if errors.Is(err, context.Canceled) {
			continue
		}
		logger.Error("failed to receive notifications", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Poll receives one batch of deliveries and ingests them concurrently.
func (c *IngestionConsumer) Poll(ctx context.Context) error {
	deliveries, err := c.receiver.Receive(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, d := range deliveries {
		g.Go(func() error {
			c.handle(ctx, d)
			return nil
		})
	}
	return g.Wait()
}

func (c *IngestionConsumer) handle(ctx context.Context, d transport.Delivery) {
	if d.DecodeErr != nil {
		logger.Error("dropping undecodable notification", zap.String("delivery_id", d.ID), zap.Error(d.DecodeErr))
		c.ack(ctx, d)
		return
	}

	res, err := c.ingester.Ingest(ctx, d.Notification)
	if err != nil {
		if errors.Is(err, ErrFailedAfterResolution) {
			logger.Error("failure reported after resolution, needs attention",
				zap.String("delivery_id", d.ID),
				zap.String("unique_message_id", d.Notification.UniqueMessageID),
				zap.Error(err),
			)
			return
		}
		logger.Warn("failed to ingest notification, leaving for redelivery",
			zap.String("delivery_id", d.ID),
			zap.String("unique_message_id", d.Notification.UniqueMessageID),
			zap.Error(err),
		)
		return
	}

	logger.Debug("notification ingested",
		zap.String("delivery_id", d.ID),
		zap.String("failed_message_id", res.FailedMessageID),
		zap.String("outcome", string(res.Outcome)),
	)
	c.ack(ctx, d)
}

func (c *IngestionConsumer) ack(ctx context.Context, d transport.Delivery) {
	if err := c.receiver.Ack(ctx, d); err != nil {
		logger.Warn("failed to ack delivery", zap.String("delivery_id", d.ID), zap.Error(err))
	}
}
