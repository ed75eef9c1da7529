package service

import (
	"context"
	"errors"
	"time"

	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
)

// ResolveService records that a failed message was eventually processed.
type ResolveService struct {
	store              repository.FailureStore
	bus                EventBus
	maxConflictRetries int
}

func NewResolveService(store repository.FailureStore, bus EventBus, maxConflictRetries int) *ResolveService {
	return &ResolveService{store: store, bus: bus, maxConflictRetries: maxConflictRetries}
}

// MarkResolved moves the message to resolved as of processedAt. It reports
// false when the message was already resolved at or after processedAt.
func (s *ResolveService) MarkResolved(ctx context.Context, failedMessageID string, processedAt time.Time) (bool, error) {
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	processedAt = processedAt.UTC()

	changed := false
	err := retryOnConflict(ctx, s.maxConflictRetries, nil, func(ctx context.Context) error {
		m, err := s.store.Load(ctx, failedMessageID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		if m.Status == model.StatusResolved && m.ResolvedAt != nil && !m.ResolvedAt.Before(processedAt) {
			changed = false
			return nil
		}
		expected := m.Version
		m.Status = model.StatusResolved
		m.ResolvedAt = &processedAt
		if err := s.store.Save(ctx, m, expected); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil || !changed {
		return false, err
	}

	publish(ctx, s.bus, constraints.EventMessageFailureResolved, failedMessageID, v1.MessageFailureResolved{
		FailedMessageID: failedMessageID,
		ResolvedAt:      processedAt,
	})
	return true, nil
}
