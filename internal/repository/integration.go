package repository

import (
	"context"
	"errors"

	"recoverflow/internal/model"

	"gorm.io/gorm"
)

type IntegrationKeyRepository struct {
	db *gorm.DB
}

func NewIntegrationKeyRepository(db *gorm.DB) *IntegrationKeyRepository {
	return &IntegrationKeyRepository{db: db}
}

func (r *IntegrationKeyRepository) ValidateAPIKey(ctx context.Context, apiKey string) (bool, error) {
	var client model.IntegrationClient
	err := r.db.WithContext(ctx).
		Where("api_key = ? AND status = 1", apiKey).
		First(&client).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
