package repository

import (
	"context"

	"recoverflow/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BodyRepository struct {
	db *gorm.DB
}

func NewBodyRepository(db *gorm.DB) *BodyRepository {
	return &BodyRepository{db: db}
}

// PutBody stores b once; writing the same ref again is a no-op.
func (r *BodyRepository) PutBody(ctx context.Context, b *model.MessageBody) error {
	b.Size = len(b.Body)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(b).Error
}

func (r *BodyRepository) GetBody(ctx context.Context, ref string) (*model.MessageBody, error) {
	var b model.MessageBody
	if err := r.db.WithContext(ctx).Where("id = ?", ref).First(&b).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}
