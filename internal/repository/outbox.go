package repository

import (
	"context"

	"recoverflow/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, e *model.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var events []model.OutboxEvent
	// id order keeps each aggregate's events in publish order
	if err := r.db.WithContext(ctx).Where("status = ?", model.StatusPending).
		Limit(limit).Order("id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id int64, status int, retryCount int) error {
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).Updates(map[string]any{
		"status":      status,
		"retry_count": retryCount,
	}).Error
}
