package service

import (
	"context"
	"errors"
	"time"

	"recoverflow/internal/model"
	"recoverflow/internal/repository"
)

// GroupService serves the triage views over failure groups.
type GroupService struct {
	groups   repository.GroupStore
	failures repository.FailureStore
}

func NewGroupService(groups repository.GroupStore, failures repository.FailureStore) *GroupService {
	return &GroupService{groups: groups, failures: failures}
}

func (s *GroupService) ListGroups(ctx context.Context, classifier string) ([]model.GroupSummary, error) {
	return s.groups.ListGroups(ctx, classifier)
}

func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*model.FailureGroup, error) {
	g, err := s.groups.GetGroup(ctx, groupID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	return g, err
}

// GroupMessages returns the ids of the group's members in status.
func (s *GroupService) GroupMessages(ctx context.Context, groupID string, status model.FailedMessageStatus) ([]string, error) {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	p := repository.Predicate{GroupID: g.GroupID}
	if status != "" {
		p.Statuses = []model.FailedMessageStatus{status}
	}
	return s.failures.Query(ctx, p)
}

func (s *GroupService) SetComment(ctx context.Context, groupID, comment string) error {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if comment == "" {
		return s.groups.DeleteComment(ctx, g.GroupID)
	}
	return s.groups.SetComment(ctx, &model.GroupComment{
		GroupID:   g.GroupID,
		Comment:   comment,
		UpdatedBy: GetOperator(ctx),
		UpdatedAt: time.Now().UTC(),
	})
}

// GetFailedMessage looks a message up by aggregate id or by the unique
// message id it was derived from.
func (s *GroupService) GetFailedMessage(ctx context.Context, id string) (*model.FailedMessage, error) {
	m, err := s.failures.Load(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		m, err = s.failures.Load(ctx, model.FailedMessageID(id))
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	return m, err
}
