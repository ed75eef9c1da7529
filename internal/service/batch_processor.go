package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"recoverflow/internal/metrics"
	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	"recoverflow/internal/transport"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type BatchProcessorOptions struct {
	Parallelism        int
	MaxSendAttempts    int
	StaleAfter         time.Duration
	Interval           time.Duration
	PickLimit          int
	MaxConflictRetries int
}

// BatchProcessor forwards staged retry batches. A batch is owned by whoever
// moves it to forwarding; a forwarding batch that stops making progress for
// StaleAfter is picked up again and resumed.
type BatchProcessor struct {
	retries  repository.RetryStore
	failures repository.FailureStore
	bodies   repository.BodyStore
	sender   transport.Sender
	bus      EventBus
	finisher *RetryService
	observer metrics.RetryObserver
	opts     BatchProcessorOptions
	now      func() time.Time
}

func NewBatchProcessor(retries repository.RetryStore, failures repository.FailureStore, bodies repository.BodyStore, sender transport.Sender, bus EventBus, finisher *RetryService, observer metrics.RetryObserver, opts BatchProcessorOptions) *BatchProcessor {
	if observer == nil {
		observer = metrics.Nop{}
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.MaxSendAttempts <= 0 {
		opts.MaxSendAttempts = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.PickLimit <= 0 {
		opts.PickLimit = 20
	}
	return &BatchProcessor{
		retries:  retries,
		failures: failures,
		bodies:   bodies,
		sender:   sender,
		bus:      bus,
		finisher: finisher,
		observer: observer,
		opts:     opts,
		now:      time.Now,
	}
}

func (p *BatchProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	logger.Info("batch processor started",
		zap.Duration("interval", p.opts.Interval),
		zap.Int("parallelism", p.opts.Parallelism),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("batch processor stopped")
			return
		case <-ticker.C:
			if err := p.ProcessPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("failed to process retry batches", zap.Error(err))
			}
		}
	}
}

// ProcessPending forwards every batch that is ready, at most Parallelism at
// a time, and returns when they are done or ctx is cancelled.
func (p *BatchProcessor) ProcessPending(ctx context.Context) error {
	batches, err := p.retries.PickBatches(ctx, p.now().Add(-p.opts.StaleAfter), p.opts.PickLimit)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(p.opts.Parallelism)
	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.processBatch(ctx, b)
			return nil
		})
	}
	g.Wait()
	return ctx.Err()
}

func (p *BatchProcessor) processBatch(ctx context.Context, b *model.RetryBatch) {
	resumed := b.Status == model.BatchForwarding
	b.Status = model.BatchForwarding
	if err := p.retries.SaveBatch(ctx, b, b.Version); err != nil {
		if errors.Is(err, repository.ErrConcurrencyConflict) {
			logger.Debug("batch taken by another worker", zap.String("batch_id", b.ID))
			return
		}
		logger.Error("failed to start batch", zap.String("batch_id", b.ID), zap.Error(err))
		return
	}
	logger.Info("forwarding retry batch",
		zap.String("batch_id", b.ID),
		zap.String("request_id", b.RequestID),
		zap.Int("size", len(b.FailedMessageIDs)),
		zap.Int("offset", b.ForwardedCount),
		zap.Bool("resumed", resumed),
	)

	for i := b.ForwardedCount; i < len(b.FailedMessageIDs); i++ {
		if ctx.Err() != nil {
			// left in forwarding, resumed once stale
			return
		}
		id := b.FailedMessageIDs[i]
		sent, err := p.forward(ctx, b, id)
		if err != nil {
			p.fail(ctx, b, err)
			return
		}
		b.ForwardedCount = i + 1
		if !sent {
			b.SkippedIDs = append(b.SkippedIDs, id)
		}
		if err := p.retries.SaveBatch(ctx, b, b.Version); err != nil {
			logger.Warn("lost ownership of batch",
				zap.String("batch_id", b.ID),
				zap.Int("forwarded", b.ForwardedCount),
				zap.Error(err),
			)
			return
		}
		if sent {
			p.observer.RecordForwarded(1)
		}
	}

	b.Status = model.BatchCompleted
	if err := p.retries.SaveBatch(ctx, b, b.Version); err != nil {
		logger.Warn("failed to complete batch", zap.String("batch_id", b.ID), zap.Error(err))
		return
	}
	p.finish(ctx, b)
}

// forward sends one message back to its endpoint and marks it retryIssued.
// A message already retryIssued, or no longer retryable, is skipped and
// reported as not sent.
func (p *BatchProcessor) forward(ctx context.Context, b *model.RetryBatch, id string) (bool, error) {
	sent := false
	err := retryOnConflict(ctx, p.opts.MaxConflictRetries, nil, func(ctx context.Context) error {
		m, err := p.failures.Load(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("failed message vanished before retry", zap.String("failed_message_id", id))
			return nil
		}
		if err != nil {
			return err
		}
		if m.Status != model.StatusUnresolved && m.Status != model.StatusArchived {
			return nil
		}
		last := m.LastAttempt()
		if last == nil {
			return fmt.Errorf("message %s has no processing attempts", id)
		}

		if !sent {
			body, err := p.bodies.GetBody(ctx, last.BodyRef)
			if err != nil {
				return fmt.Errorf("read body %s: %w", last.BodyRef, err)
			}
			if err := p.send(ctx, b, m, last, body.Body); err != nil {
				return err
			}
			sent = true
		}

		expected := m.Version
		m.Status = model.StatusRetryIssued
		return p.failures.Save(ctx, m, expected)
	})
	return sent, err
}

func (p *BatchProcessor) send(ctx context.Context, b *model.RetryBatch, m *model.FailedMessage, last *model.ProcessingAttempt, body []byte) error {
	headers := make(map[string]string, len(last.Headers)+4)
	for k, v := range last.Headers {
		headers[k] = v
	}
	headers[constraints.HeaderRetryUniqueMessageID] = m.UniqueMessageID
	headers[constraints.HeaderRetryBatchID] = b.ID
	headers[constraints.HeaderRetryRequestID] = b.RequestID
	headers[constraints.HeaderRetryAttempt] = strconv.Itoa(len(m.ProcessingAttempts))

	msg := transport.OutgoingMessage{
		Destination: last.FailureDetails.AddressOfFailingEndpoint,
		Headers:     headers,
		Body:        body,
	}

	var err error
	for attempt := 1; attempt <= p.opts.MaxSendAttempts; attempt++ {
		if err = p.sender.Send(ctx, msg); err == nil {
			return nil
		}
		logger.Warn("send failed",
			zap.String("failed_message_id", m.ID),
			zap.String("destination", msg.Destination),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("send %s to %q failed after %d attempts: %w", m.ID, msg.Destination, p.opts.MaxSendAttempts, err)
}

func (p *BatchProcessor) fail(ctx context.Context, b *model.RetryBatch, cause error) {
	if ctx.Err() != nil {
		return
	}
	logger.Error("retry batch failed",
		zap.String("batch_id", b.ID),
		zap.String("request_id", b.RequestID),
		zap.Int("forwarded", b.ForwardedCount),
		zap.Error(cause),
	)
	b.Status = model.BatchFailed
	b.FailureReason = cause.Error()
	if err := p.retries.SaveBatch(ctx, b, b.Version); err != nil {
		logger.Warn("failed to mark batch failed", zap.String("batch_id", b.ID), zap.Error(err))
		return
	}
	p.finish(ctx, b)
}

func (p *BatchProcessor) finish(ctx context.Context, b *model.RetryBatch) {
	p.observer.RecordBatchFinished(string(b.Status))
	if err := p.retries.ReleaseClaims(ctx, b.ID); err != nil {
		logger.Error("failed to release claims", zap.String("batch_id", b.ID), zap.Error(err))
	}

	if ids := b.SentIDs(); len(ids) > 0 {
		publish(ctx, p.bus, constraints.EventMessagesSubmittedForRetry, b.RequestID, v1.MessagesSubmittedForRetry{
			RequestID:        b.RequestID,
			RetryType:        b.RetryType,
			BatchID:          b.ID,
			FailedMessageIDs: ids,
			Context:          b.Originator,
		})
	}

	if err := p.finisher.finishIfDone(ctx, b.RequestID); err != nil {
		logger.Error("failed to complete retry operation", zap.String("request_id", b.RequestID), zap.Error(err))
	}
}
