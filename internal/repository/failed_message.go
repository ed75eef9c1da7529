package repository

import (
	"context"
	"fmt"
	"time"

	"recoverflow/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FailedMessageRepository is the MySQL FailureStore.
type FailedMessageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewFailedMessageRepository(db *gorm.DB) *FailedMessageRepository {
	return &FailedMessageRepository{db: db, now: time.Now}
}

func (r *FailedMessageRepository) Load(ctx context.Context, id string) (*model.FailedMessage, error) {
	var m model.FailedMessage
	err := r.db.WithContext(ctx).
		Preload("ProcessingAttempts", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Preload("FailureGroups").
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *FailedMessageRepository) Create(ctx context.Context, m *model.FailedMessage) error {
	m.Version = 1
	m.LastModified = r.now().UTC()
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		m.Version = 0
		return translate(err)
	}
	return nil
}

// Save writes m if its stored version still equals expectedVersion. Attempts
// without an id are appended, memberships are inserted if missing. Nothing
// already stored is rewritten.
func (r *FailedMessageRepository) Save(ctx context.Context, m *model.FailedMessage, expectedVersion int64) error {
	now := r.now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.FailedMessage{}).
			Where("id = ? AND version = ?", m.ID, expectedVersion).
			Updates(map[string]any{
				"status":             m.Status,
				"receiving_endpoint": m.ReceivingEndpoint,
				"failing_address":    m.FailingAddress,
				"message_type":       m.MessageType,
				"time_of_failure":    m.TimeOfFailure,
				"resolved_at":        m.ResolvedAt,
				"last_modified":      now,
				"version":            expectedVersion + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrencyConflict
		}

		var fresh []*model.ProcessingAttempt
		for i := range m.ProcessingAttempts {
			if m.ProcessingAttempts[i].ID == 0 {
				m.ProcessingAttempts[i].FailedMessageID = m.ID
				fresh = append(fresh, &m.ProcessingAttempts[i])
			}
		}
		if len(fresh) > 0 {
			if err := tx.Create(fresh).Error; err != nil {
				return fmt.Errorf("append attempts: %w", err)
			}
		}

		if len(m.FailureGroups) > 0 {
			for i := range m.FailureGroups {
				m.FailureGroups[i].FailedMessageID = m.ID
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m.FailureGroups).Error; err != nil {
				return fmt.Errorf("save groups: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return translate(err)
	}
	m.Version = expectedVersion + 1
	m.LastModified = now
	return nil
}

func (r *FailedMessageRepository) Query(ctx context.Context, p Predicate) ([]string, error) {
	var ids []string
	err := r.applyPredicate(r.db.WithContext(ctx).Model(&model.FailedMessage{}), p).
		Order("last_modified ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// BulkConditionalUpdate locks the matching rows, flips their status and
// returns their ids, all in one transaction. Concurrent Saves on those rows
// wait for the commit and then fail their version check.
func (r *FailedMessageRepository) BulkConditionalUpdate(ctx context.Context, p Predicate, newStatus model.FailedMessageStatus) ([]string, error) {
	var ids []string
	now := r.now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := r.applyPredicate(tx.Model(&model.FailedMessage{}), p).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Order("id ASC")
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&model.FailedMessage{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":        newStatus,
				"last_modified": now,
				"version":       gorm.Expr("version + 1"),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *FailedMessageRepository) applyPredicate(db *gorm.DB, p Predicate) *gorm.DB {
	if len(p.IDs) > 0 {
		db = db.Where("id IN ?", p.IDs)
	}
	if len(p.Statuses) > 0 {
		db = db.Where("status IN ?", p.Statuses)
	}
	if p.ReceivingEndpoint != "" {
		db = db.Where("receiving_endpoint = ?", p.ReceivingEndpoint)
	}
	if p.FailingAddress != "" {
		db = db.Where("failing_address = ?", p.FailingAddress)
	}
	if p.GroupID != "" {
		members := r.db.Model(&model.FailureGroup{}).
			Select("failed_message_id").
			Where("group_id = ? OR legacy_group_id = ?", p.GroupID, p.GroupID)
		db = db.Where("id IN (?)", members)
	}
	if !p.ModifiedBefore.IsZero() {
		db = db.Where("last_modified <= ?", p.ModifiedBefore.UTC())
	}
	return db
}
