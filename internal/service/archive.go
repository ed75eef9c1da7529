package service

import (
	"context"
	"errors"
	"time"

	"recoverflow/internal/metrics"
	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
)

type ArchiveResult struct {
	GroupID     string
	GroupTitle  string
	CutOff      time.Time
	AffectedIDs []string
}

// ArchiveService moves whole failure groups between unresolved and archived
// with one store-side conditional update.
type ArchiveService struct {
	store    repository.FailureStore
	groups   repository.GroupStore
	bus      EventBus
	observer metrics.RetryObserver
	now      func() time.Time
}

func NewArchiveService(store repository.FailureStore, groups repository.GroupStore, bus EventBus, observer metrics.RetryObserver) *ArchiveService {
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &ArchiveService{
		store:    store,
		groups:   groups,
		bus:      bus,
		observer: observer,
		now:      time.Now,
	}
}

// ArchiveGroup archives the unresolved members of groupID last modified at
// or before cutOff. A zero cutOff means now.
func (s *ArchiveService) ArchiveGroup(ctx context.Context, groupID string, cutOff time.Time) (ArchiveResult, error) {
	res, err := s.transition(ctx, groupID, cutOff, model.StatusUnresolved, model.StatusArchived)
	if err != nil || len(res.AffectedIDs) == 0 {
		return res, err
	}
	s.observer.RecordArchived("archive", len(res.AffectedIDs))
	publish(ctx, s.bus, constraints.EventFailedMessageGroupArchived, res.GroupID, v1.FailedMessageGroupArchived{
		GroupID:          res.GroupID,
		GroupName:        res.GroupTitle,
		CutOff:           res.CutOff,
		MessagesCount:    len(res.AffectedIDs),
		FailedMessageIDs: res.AffectedIDs,
	})
	return res, nil
}

// UnarchiveGroup is the inverse of ArchiveGroup.
func (s *ArchiveService) UnarchiveGroup(ctx context.Context, groupID string, cutOff time.Time) (ArchiveResult, error) {
	res, err := s.transition(ctx, groupID, cutOff, model.StatusArchived, model.StatusUnresolved)
	if err != nil || len(res.AffectedIDs) == 0 {
		return res, err
	}
	s.observer.RecordArchived("unarchive", len(res.AffectedIDs))
	publish(ctx, s.bus, constraints.EventFailedMessageGroupUnarchived, res.GroupID, v1.FailedMessageGroupUnarchived{
		GroupID:          res.GroupID,
		GroupName:        res.GroupTitle,
		CutOff:           res.CutOff,
		MessagesCount:    len(res.AffectedIDs),
		FailedMessageIDs: res.AffectedIDs,
	})
	return res, nil
}

func (s *ArchiveService) transition(ctx context.Context, groupID string, cutOff time.Time, from, to model.FailedMessageStatus) (ArchiveResult, error) {
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ArchiveResult{}, ErrGroupNotFound
		}
		return ArchiveResult{}, err
	}
	if cutOff.IsZero() {
		cutOff = s.now()
	}
	res := ArchiveResult{GroupID: g.GroupID, GroupTitle: g.Title, CutOff: cutOff}

	ids, err := s.store.BulkConditionalUpdate(ctx, repository.Predicate{
		GroupID:        g.GroupID,
		Statuses:       []model.FailedMessageStatus{from},
		ModifiedBefore: cutOff,
	}, to)
	if err != nil {
		return res, err
	}
	res.AffectedIDs = ids

	logger.Info("group status changed",
		zap.String("group_id", g.GroupID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("affected", len(ids)),
		zap.String("operator", GetOperator(ctx)),
	)
	return res, nil
}
