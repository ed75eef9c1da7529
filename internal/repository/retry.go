package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recoverflow/internal/model"

	"gorm.io/gorm"
)

// RetryBatchRepository stores retry operations, their batches and the
// per-message claims that keep a message in at most one active batch.
type RetryBatchRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRetryBatchRepository(db *gorm.DB) *RetryBatchRepository {
	return &RetryBatchRepository{db: db, now: time.Now}
}

func (r *RetryBatchRepository) ClaimedAmong(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var claimed []string
	err := r.db.WithContext(ctx).Model(&model.RetryClaim{}).
		Where("failed_message_id IN ?", ids).
		Pluck("failed_message_id", &claimed).Error
	return claimed, err
}

func (r *RetryBatchRepository) StageRetry(ctx context.Context, op *model.RetryOperation, batches []*model.RetryBatch) error {
	now := r.now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !op.Completed {
			scope := op.ScopeKey
			op.ActiveScope = &scope
		}
		if err := tx.Create(op).Error; err != nil {
			return translate(err)
		}

		for _, b := range batches {
			b.Version = 1
			b.LastModified = now
			if err := tx.Create(b).Error; err != nil {
				return fmt.Errorf("stage batch %s: %w", b.ID, err)
			}
			claims := make([]model.RetryClaim, 0, len(b.FailedMessageIDs))
			for _, id := range b.FailedMessageIDs {
				claims = append(claims, model.RetryClaim{
					FailedMessageID: id,
					BatchID:         b.ID,
					RequestID:       op.RequestID,
					CreatedAt:       now,
				})
			}
			if err := tx.CreateInBatches(claims, 500).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrConcurrencyConflict
				}
				return fmt.Errorf("claim batch %s: %w", b.ID, err)
			}
		}
		return nil
	})
}

func (r *RetryBatchRepository) GetOperation(ctx context.Context, requestID string) (*model.RetryOperation, error) {
	var op model.RetryOperation
	if err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&op).Error; err != nil {
		return nil, translate(err)
	}
	return &op, nil
}

func (r *RetryBatchRepository) ListOperations(ctx context.Context, activeOnly bool, limit int) ([]*model.RetryOperation, error) {
	var ops []*model.RetryOperation
	q := r.db.WithContext(ctx)
	if activeOnly {
		q = q.Where("completed = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("start_time DESC").Find(&ops).Error
	return ops, err
}

func (r *RetryBatchRepository) CompleteOperation(ctx context.Context, requestID string, failed bool, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.RetryOperation{}).
		Where("request_id = ? AND completed = ?", requestID, false).
		Updates(map[string]any{
			"completed":       true,
			"failed":          failed,
			"completion_time": at.UTC(),
			"active_scope":    nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *RetryBatchRepository) PickBatches(ctx context.Context, staleBefore time.Time, limit int) ([]*model.RetryBatch, error) {
	var batches []*model.RetryBatch
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND last_modified < ?)", model.BatchStaging, model.BatchForwarding, staleBefore.UTC()).
		Order("start_time ASC, id ASC").
		Limit(limit).
		Find(&batches).Error
	return batches, err
}

func (r *RetryBatchRepository) GetBatch(ctx context.Context, id string) (*model.RetryBatch, error) {
	var b model.RetryBatch
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (r *RetryBatchRepository) SaveBatch(ctx context.Context, b *model.RetryBatch, expectedVersion int64) error {
	// map updates bypass the field serializer
	skipped, err := json.Marshal(b.SkippedIDs)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&model.RetryBatch{}).
		Where("id = ? AND version = ?", b.ID, expectedVersion).
		Updates(map[string]any{
			"status":          b.Status,
			"forwarded_count": b.ForwardedCount,
			"skipped_ids":     string(skipped),
			"failure_reason":  b.FailureReason,
			"last_modified":   now,
			"version":         expectedVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrencyConflict
	}
	b.Version = expectedVersion + 1
	b.LastModified = now
	return nil
}

func (r *RetryBatchRepository) BatchesForRequest(ctx context.Context, requestID string) ([]*model.RetryBatch, error) {
	var batches []*model.RetryBatch
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).Order("start_time ASC, id ASC").Find(&batches).Error
	return batches, err
}

func (r *RetryBatchRepository) ReleaseClaims(ctx context.Context, batchID string) error {
	return r.db.WithContext(ctx).Where("batch_id = ?", batchID).Delete(&model.RetryClaim{}).Error
}
