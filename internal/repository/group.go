package repository

import (
	"context"

	"recoverflow/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) GetGroup(ctx context.Context, groupID string) (*model.FailureGroup, error) {
	var g model.FailureGroup
	err := r.db.WithContext(ctx).
		Where("group_id = ? OR legacy_group_id = ?", groupID, groupID).
		First(&g).Error
	if err != nil {
		return nil, translate(err)
	}
	return &g, nil
}

// ListGroups summarizes groups that still hold unresolved messages.
func (r *GroupRepository) ListGroups(ctx context.Context, classifier string) ([]model.GroupSummary, error) {
	var groups []model.GroupSummary
	q := r.db.WithContext(ctx).
		Table("failure_groups AS g").
		Select("g.group_id, MAX(g.title) AS title, MAX(g.type) AS type, COUNT(*) AS count, "+
			"MIN(m.time_of_failure) AS first_seen, MAX(m.time_of_failure) AS last_seen").
		Joins("JOIN failed_messages AS m ON m.id = g.failed_message_id").
		Where("m.status = ?", model.StatusUnresolved)
	if classifier != "" {
		q = q.Where("g.type = ?", classifier)
	}
	if err := q.Group("g.group_id").Order("last_seen DESC").Scan(&groups).Error; err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return groups, nil
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.GroupID
	}
	var comments []model.GroupComment
	if err := r.db.WithContext(ctx).Where("group_id IN ?", ids).Find(&comments).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]string, len(comments))
	for _, c := range comments {
		byID[c.GroupID] = c.Comment
	}
	for i := range groups {
		groups[i].Comment = byID[groups[i].GroupID]
	}
	return groups, nil
}

func (r *GroupRepository) SetComment(ctx context.Context, c *model.GroupComment) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"comment", "updated_by", "updated_at"}),
	}).Create(c).Error
}

func (r *GroupRepository) DeleteComment(ctx context.Context, groupID string) error {
	return r.db.WithContext(ctx).Where("group_id = ?", groupID).Delete(&model.GroupComment{}).Error
}
