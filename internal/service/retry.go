package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"recoverflow/internal/metrics"
	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
	"recoverflow/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryRequest names the messages to retry. Only the field matching Type is
// read. A zero CutOff means the time of the request.
type RetryRequest struct {
	Type         v1.RetryType
	MessageIDs   []string
	Endpoint     string
	GroupID      string
	QueueAddress string
	CutOff       time.Time
}

type scope struct {
	key        string
	originator string
	classifier string
	predicate  repository.Predicate
}

type RetryService struct {
	failures           repository.FailureStore
	groups             repository.GroupStore
	retries            repository.RetryStore
	history            *HistoryService
	bus                EventBus
	observer           metrics.RetryObserver
	batchSize          int
	maxConflictRetries int
	now                func() time.Time
}

func NewRetryService(failures repository.FailureStore, groups repository.GroupStore, retries repository.RetryStore, history *HistoryService, bus EventBus, observer metrics.RetryObserver, batchSize, maxConflictRetries int) *RetryService {
	if observer == nil {
		observer = metrics.Nop{}
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &RetryService{
		failures:           failures,
		groups:             groups,
		retries:            retries,
		history:            history,
		bus:                bus,
		observer:           observer,
		batchSize:          batchSize,
		maxConflictRetries: maxConflictRetries,
		now:                time.Now,
	}
}

// RequestRetry stages batches for every unresolved or archived message in
// the requested scope and returns the request id. Forwarding happens later
// in the BatchProcessor.
func (s *RetryService) RequestRetry(ctx context.Context, req RetryRequest) (string, error) {
	sc, err := s.resolveScope(ctx, req)
	if err != nil {
		return "", err
	}

	start := s.now().UTC()
	cutOff := req.CutOff
	if cutOff.IsZero() {
		cutOff = start
	}
	sc.predicate.Statuses = []model.FailedMessageStatus{model.StatusUnresolved, model.StatusArchived}
	sc.predicate.ModifiedBefore = cutOff

	requestID := uuid.NewString()
	sessionID := uuid.NewString()
	var op *model.RetryOperation

	err = retryOnConflict(ctx, s.maxConflictRetries, nil, func(ctx context.Context) error {
		ids, err := s.failures.Query(ctx, sc.predicate)
		if err != nil {
			return err
		}
		claimed, err := s.retries.ClaimedAmong(ctx, ids)
		if err != nil {
			return err
		}
		if len(claimed) > 0 {
			ids = slices.DeleteFunc(ids, func(id string) bool { return slices.Contains(claimed, id) })
			logger.Info("skipping messages owned by an active retry",
				zap.String("scope", sc.key), zap.Int("skipped", len(claimed)))
		}

		batches := s.partition(ids, requestID, sessionID, req.Type, sc, start)
		op = &model.RetryOperation{
			RequestID:        requestID,
			RetrySessionID:   sessionID,
			RetryType:        req.Type,
			ScopeKey:         sc.key,
			Originator:       sc.originator,
			Classifier:       sc.classifier,
			StartTime:        start,
			NumberOfMessages: len(ids),
			BatchCount:       len(batches),
		}
		if len(ids) == 0 {
			op.Completed = true
			op.CompletionTime = &start
		}

		err = s.retries.StageRetry(ctx, op, batches)
		if errors.Is(err, repository.ErrAlreadyExists) {
			return ErrRetryInProgress
		}
		return err
	})
	if err != nil {
		return "", err
	}

	logger.Info("retry staged",
		zap.String("request_id", requestID),
		zap.String("scope", sc.key),
		zap.Int("messages", op.NumberOfMessages),
		zap.Int("batches", op.BatchCount),
		zap.String("operator", GetOperator(ctx)),
	)

	if op.Completed {
		s.recordCompletion(ctx, op, 0)
	}
	return requestID, nil
}

func (s *RetryService) RetryAll(ctx context.Context) (string, error) {
	return s.RequestRetry(ctx, RetryRequest{Type: v1.RetryAll})
}

func (s *RetryService) GetOperation(ctx context.Context, requestID string) (*model.RetryOperation, []*model.RetryBatch, error) {
	op, err := s.retries.GetOperation(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	batches, err := s.retries.BatchesForRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return op, batches, nil
}

func (s *RetryService) ListOperations(ctx context.Context, activeOnly bool, limit int) ([]*model.RetryOperation, error) {
	return s.retries.ListOperations(ctx, activeOnly, limit)
}

func (s *RetryService) resolveScope(ctx context.Context, req RetryRequest) (scope, error) {
	switch req.Type {
	case v1.RetrySingleMessage:
		ids := compactIDs(req.MessageIDs)
		if len(ids) == 0 {
			return scope{}, fmt.Errorf("%w: no message ids", ErrInvalidScope)
		}
		sc := scope{predicate: repository.Predicate{IDs: ids}}
		if len(ids) == 1 {
			sc.key = "message:" + ids[0]
			sc.originator = ids[0]
		} else {
			sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
			sc.key = "message:" + hex.EncodeToString(sum[:16])
			sc.originator = fmt.Sprintf("%d messages", len(ids))
		}
		return sc, nil

	case v1.RetryAllForEndpoint:
		if req.Endpoint == "" {
			return scope{}, fmt.Errorf("%w: endpoint is required", ErrInvalidScope)
		}
		return scope{
			key:        "endpoint:" + req.Endpoint,
			originator: req.Endpoint,
			predicate:  repository.Predicate{ReceivingEndpoint: req.Endpoint},
		}, nil

	case v1.RetryFailureGroup:
		if req.GroupID == "" {
			return scope{}, fmt.Errorf("%w: group id is required", ErrInvalidScope)
		}
		g, err := s.groups.GetGroup(ctx, req.GroupID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return scope{}, ErrGroupNotFound
			}
			return scope{}, err
		}
		return scope{
			key:        "group:" + g.GroupID,
			originator: g.Title,
			classifier: g.Type,
			predicate:  repository.Predicate{GroupID: g.GroupID},
		}, nil

	case v1.RetryByQueueAddress:
		if req.QueueAddress == "" {
			return scope{}, fmt.Errorf("%w: queue address is required", ErrInvalidScope)
		}
		return scope{
			key:        "queue:" + req.QueueAddress,
			originator: req.QueueAddress,
			predicate:  repository.Predicate{FailingAddress: req.QueueAddress},
		}, nil

	case v1.RetryAll:
		return scope{key: "all", originator: "all failed messages"}, nil
	}
	return scope{}, fmt.Errorf("%w: unknown type %q", ErrInvalidScope, req.Type)
}

func (s *RetryService) partition(ids []string, requestID, sessionID string, retryType v1.RetryType, sc scope, start time.Time) []*model.RetryBatch {
	var batches []*model.RetryBatch
	for chunk := range slices.Chunk(ids, s.batchSize) {
		batches = append(batches, &model.RetryBatch{
			ID:               uuid.NewString(),
			RequestID:        requestID,
			RetrySessionID:   sessionID,
			RetryType:        retryType,
			Originator:       sc.originator,
			Classifier:       sc.classifier,
			Status:           model.BatchStaging,
			InitialBatchSize: len(chunk),
			FailedMessageIDs: slices.Clone(chunk),
			StartTime:        start,
		})
	}
	return batches
}

// finishIfDone completes the operation of requestID once all its batches are
// terminal. Concurrent callers race on a conditional flip; only the winner
// emits the completion.
func (s *RetryService) finishIfDone(ctx context.Context, requestID string) error {
	batches, err := s.retries.BatchesForRequest(ctx, requestID)
	if err != nil {
		return err
	}
	failed := false
	forwarded := 0
	for _, b := range batches {
		if !b.Status.IsTerminal() {
			return nil
		}
		if b.Status == model.BatchFailed {
			failed = true
		}
		forwarded += b.ForwardedCount - len(b.SkippedIDs)
	}

	won, err := s.retries.CompleteOperation(ctx, requestID, failed, s.now())
	if err != nil || !won {
		return err
	}
	op, err := s.retries.GetOperation(ctx, requestID)
	if err != nil {
		return err
	}
	s.recordCompletion(ctx, op, forwarded)
	return nil
}

func (s *RetryService) recordCompletion(ctx context.Context, op *model.RetryOperation, forwarded int) {
	completedAt := op.StartTime
	if op.CompletionTime != nil {
		completedAt = *op.CompletionTime
	}
	progress := 1.0
	if op.NumberOfMessages > 0 {
		progress = float64(forwarded) / float64(op.NumberOfMessages)
	}

	s.observer.RecordOperationCompleted(op.Failed, op.NumberOfMessages)
	publish(ctx, s.bus, constraints.EventRetryOperationCompleted, op.RequestID, v1.RetryOperationCompleted{
		RequestID:        op.RequestID,
		RetryType:        op.RetryType,
		Failed:           op.Failed,
		Progress:         progress,
		StartTime:        op.StartTime,
		CompletionTime:   completedAt,
		Originator:       op.Originator,
		Classifier:       op.Classifier,
		NumberOfMessages: op.NumberOfMessages,
		ForwardedCount:   forwarded,
		BatchCount:       op.BatchCount,
	})

	err := s.history.RecordCompletion(ctx, v1.HistoricRetryOperation{
		RequestID:        op.RequestID,
		RetryType:        op.RetryType,
		StartTime:        op.StartTime,
		CompletionTime:   completedAt,
		Originator:       op.Originator,
		Classifier:       op.Classifier,
		Failed:           op.Failed,
		NumberOfMessages: op.NumberOfMessages,
	})
	if err != nil {
		logger.Error("failed to record retry history", zap.String("request_id", op.RequestID), zap.Error(err))
		return
	}
	logger.Info("retry operation completed",
		zap.String("request_id", op.RequestID),
		zap.Bool("failed", op.Failed),
		zap.Int("messages", op.NumberOfMessages),
	)
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
