package service

import (
	"context"

	"recoverflow/internal/repository"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
)

// HistoryService maintains the retry history ledger.
type HistoryService struct {
	store              repository.HistoryStore
	depth              int
	maxConflictRetries int
}

func NewHistoryService(store repository.HistoryStore, depth, maxConflictRetries int) *HistoryService {
	return &HistoryService{
		store:              store,
		depth:              depth,
		maxConflictRetries: maxConflictRetries,
	}
}

// RecordCompletion adds op to the history and to the unacknowledged list.
// Recording the same (RequestID, RetryType) again changes nothing.
func (s *HistoryService) RecordCompletion(ctx context.Context, op v1.HistoricRetryOperation) error {
	return retryOnConflict(ctx, s.maxConflictRetries, nil, func(ctx context.Context) error {
		h, rev, err := s.store.LoadHistory(ctx)
		if err != nil {
			return err
		}
		addedHistoric := h.AddToHistory(op, s.depth)
		addedPending := h.AddToUnacknowledged(v1.UnacknowledgedRetryOperation{
			RequestID:        op.RequestID,
			RetryType:        op.RetryType,
			StartTime:        op.StartTime,
			CompletionTime:   op.CompletionTime,
			Last:             op.CompletionTime,
			Originator:       op.Originator,
			Classifier:       op.Classifier,
			Failed:           op.Failed,
			NumberOfMessages: op.NumberOfMessages,
		})
		if !addedHistoric && !addedPending {
			return nil
		}
		return s.store.SaveHistory(ctx, h, rev)
	})
}

// Acknowledge removes the matching unacknowledged operation. It reports
// false when there was nothing to acknowledge.
func (s *HistoryService) Acknowledge(ctx context.Context, requestID string, retryType v1.RetryType) (bool, error) {
	var found bool
	err := retryOnConflict(ctx, s.maxConflictRetries, nil, func(ctx context.Context) error {
		h, rev, err := s.store.LoadHistory(ctx)
		if err != nil {
			return err
		}
		found = h.Acknowledge(requestID, retryType)
		if !found {
			return nil
		}
		return s.store.SaveHistory(ctx, h, rev)
	})
	if err != nil {
		return false, err
	}
	if found {
		logger.Info("retry operation acknowledged",
			zap.String("request_id", requestID),
			zap.String("retry_type", string(retryType)),
			zap.String("operator", GetOperator(ctx)),
		)
	}
	return found, nil
}

func (s *HistoryService) Get(ctx context.Context) (v1.RetryHistoryView, error) {
	h, _, err := s.store.LoadHistory(ctx)
	if err != nil {
		return v1.RetryHistoryView{}, err
	}
	return h.View(), nil
}
