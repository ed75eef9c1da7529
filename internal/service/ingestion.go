package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"recoverflow/internal/classifier"
	"recoverflow/internal/metrics"
	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
)

type IngestOutcome string

const (
	OutcomeCreated   IngestOutcome = "created"
	OutcomeMerged    IngestOutcome = "merged"
	OutcomeDuplicate IngestOutcome = "duplicate"
)

type IngestResult struct {
	Outcome         IngestOutcome
	FailedMessageID string
}

// IngestionService turns failure notifications into FailedMessage
// aggregates, deduplicating re-deliveries by failure time.
type IngestionService struct {
	store              repository.FailureStore
	bodies             repository.BodyStore
	engine             *classifier.Engine
	bus                EventBus
	observer           metrics.IngestionObserver
	maxConflictRetries int
}

func NewIngestionService(store repository.FailureStore, bodies repository.BodyStore, engine *classifier.Engine, bus EventBus, observer metrics.IngestionObserver, maxConflictRetries int) *IngestionService {
	if observer == nil {
		observer = metrics.Nop{}
	}
	if engine == nil {
		engine = classifier.NewEngine()
	}
	return &IngestionService{
		store:              store,
		bodies:             bodies,
		engine:             engine,
		bus:                bus,
		observer:           observer,
		maxConflictRetries: maxConflictRetries,
	}
}

func (s *IngestionService) Ingest(ctx context.Context, n v1.FailureNotification) (IngestResult, error) {
	if err := n.Validate(); err != nil {
		s.observer.RecordIngestError("invalid")
		return IngestResult{}, err
	}

	id := model.FailedMessageID(n.UniqueMessageID)
	result := IngestResult{FailedMessageID: id}
	attempt := buildAttempt(id, n)

	body := &model.MessageBody{
		ID:              attempt.BodyRef,
		FailedMessageID: id,
		ContentType:     attempt.MessageMetadata.ContentType,
		Body:            n.Body,
	}
	groups := s.engine.Classify(classifier.InputFromAttempt(attempt))

	// bodies are written only for attempts that get stored
	_, err := s.store.Load(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		m, err := s.create(ctx, n, attempt, body, groups)
		if err == nil {
			result.Outcome = OutcomeCreated
			s.observer.RecordIngest(string(result.Outcome))
			publish(ctx, s.bus, constraints.EventFailureRecorded, id, v1.FailureRecorded{
				FailedMessageID:   id,
				UniqueMessageID:   n.UniqueMessageID,
				MessageType:       attempt.MessageMetadata.MessageType,
				ReceivingEndpoint: receivingEndpoint(attempt),
				TimeOfFailure:     attempt.FailureDetails.TimeOfFailure,
				GroupIDs:          m.GroupIDs(),
			})
			return result, nil
		}
		if !errors.Is(err, repository.ErrAlreadyExists) {
			return result, err
		}
	case err != nil:
		s.observer.RecordIngestError("store")
		return result, err
	}

	var merged *model.FailedMessage
	var reopened bool
	err = retryOnConflict(ctx, s.maxConflictRetries, s.observer.RecordConflictRetry, func(ctx context.Context) error {
		cur, err := s.store.Load(ctx, id)
		if err != nil {
			return err
		}

		if last := cur.LastAttempt(); last != nil &&
			!attempt.FailureDetails.TimeOfFailure.After(last.FailureDetails.TimeOfFailure) {
			result.Outcome = OutcomeDuplicate
			return nil
		}

		reopened = false
		if cur.Status == model.StatusResolved {
			if cur.ResolvedAt != nil && attempt.FailureDetails.TimeOfFailure.After(*cur.ResolvedAt) {
				return fmt.Errorf("%w: message %s resolved at %s, failure at %s", ErrFailedAfterResolution,
					id, cur.ResolvedAt.Format(time.RFC3339Nano), attempt.FailureDetails.TimeOfFailure.Format(time.RFC3339Nano))
			}
			reopened = true
		}

		if err := s.bodies.PutBody(ctx, body); err != nil {
			return fmt.Errorf("%w: %w", errBodyStore, err)
		}

		expected := cur.Version
		cur.Status = model.StatusUnresolved
		cur.ResolvedAt = nil
		cur.AppendAttempt(attempt)
		cur.AddGroups(groups)
		if err := s.store.Save(ctx, cur, expected); err != nil {
			return err
		}
		result.Outcome = OutcomeMerged
		merged = cur
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrFailedAfterResolution):
			s.observer.RecordIngestError("failed_after_resolution")
		case errors.Is(err, ErrConflictRetriesExhausted):
			s.observer.RecordIngestError("conflict")
		case errors.Is(err, errBodyStore):
			s.observer.RecordIngestError("body")
		default:
			s.observer.RecordIngestError("store")
		}
		return result, err
	}

	s.observer.RecordIngest(string(result.Outcome))
	if result.Outcome == OutcomeDuplicate {
		logger.Debug("duplicate failure notification discarded",
			zap.String("failed_message_id", id),
			zap.Time("time_of_failure", attempt.FailureDetails.TimeOfFailure),
		)
		return result, nil
	}

	publish(ctx, s.bus, constraints.EventRepeatedFailureRecorded, id, v1.RepeatedFailureRecorded{
		FailedMessageID:   id,
		UniqueMessageID:   n.UniqueMessageID,
		MessageType:       attempt.MessageMetadata.MessageType,
		ReceivingEndpoint: receivingEndpoint(attempt),
		TimeOfFailure:     attempt.FailureDetails.TimeOfFailure,
		NumberOfAttempts:  len(merged.ProcessingAttempts),
		Reopened:          reopened,
		GroupIDs:          merged.GroupIDs(),
	})
	return result, nil
}

var errBodyStore = errors.New("store body")

func (s *IngestionService) create(ctx context.Context, n v1.FailureNotification, attempt model.ProcessingAttempt, body *model.MessageBody, groups []model.FailureGroup) (*model.FailedMessage, error) {
	if err := s.bodies.PutBody(ctx, body); err != nil {
		s.observer.RecordIngestError("body")
		return nil, fmt.Errorf("%w: %w", errBodyStore, err)
	}

	m := &model.FailedMessage{
		ID:              body.FailedMessageID,
		UniqueMessageID: n.UniqueMessageID,
		Status:          model.StatusUnresolved,
	}
	m.AppendAttempt(attempt)
	m.AddGroups(groups)

	err := s.store.Create(ctx, m)
	if err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		s.observer.RecordIngestError("store")
	}
	return m, err
}

// buildAttempt maps a notification onto a processing attempt. Explicit
// notification fields win over the transport headers.
func buildAttempt(failedMessageID string, n v1.FailureNotification) model.ProcessingAttempt {
	h := n.Headers
	if h == nil {
		h = map[string]string{}
	}

	meta := model.MessageMetadata{
		MessageType: firstNonEmpty(n.MessageType, enclosedType(h[constraints.HeaderEnclosedTypes])),
		ContentType: firstNonEmpty(n.ContentType, h[constraints.HeaderContentType]),
		TimeSent:    n.TimeSent,
	}
	if meta.TimeSent.IsZero() {
		if t, err := time.Parse(time.RFC3339Nano, h[constraints.HeaderTimeSent]); err == nil {
			meta.TimeSent = t
		}
	}
	if n.SendingEndpoint != nil {
		meta.SendingEndpoint = n.SendingEndpoint.Name
	} else {
		meta.SendingEndpoint = h[constraints.HeaderOriginatingEP]
	}
	if n.ReceivingEndpoint != nil {
		meta.ReceivingEndpoint = n.ReceivingEndpoint.Name
		meta.ReceivingHost = n.ReceivingEndpoint.Host
		meta.ReceivingHostID = n.ReceivingEndpoint.HostID
	} else {
		meta.ReceivingEndpoint = h[constraints.HeaderProcessingEP]
		meta.ReceivingHost = h[constraints.HeaderProcessingMachine]
		meta.ReceivingHostID = h[constraints.HeaderHostID]
	}

	failure := model.FailureDetails{
		ExceptionType:            n.Failure.ExceptionType,
		ExceptionMessage:         n.Failure.ExceptionMessage,
		ExceptionSource:          n.Failure.ExceptionSource,
		StackTrace:               n.Failure.StackTrace,
		AddressOfFailingEndpoint: firstNonEmpty(n.Failure.AddressOfFailingEndpoint, h[constraints.HeaderFailedQ]),
		TimeOfFailure:            n.Failure.TimeOfFailure.UTC(),
	}

	headers := make(map[string]string, len(h))
	for k, v := range h {
		headers[k] = v
	}

	return model.ProcessingAttempt{
		MessageID:       firstNonEmpty(n.MessageID, h[constraints.HeaderMessageID]),
		Headers:         headers,
		FailureDetails:  failure,
		MessageMetadata: meta,
		BodyRef:         model.BodyRef(failedMessageID, failure.TimeOfFailure),
	}
}

func receivingEndpoint(a model.ProcessingAttempt) *v1.EndpointDetails {
	if a.MessageMetadata.ReceivingEndpoint == "" {
		return nil
	}
	return &v1.EndpointDetails{
		Name:   a.MessageMetadata.ReceivingEndpoint,
		Host:   a.MessageMetadata.ReceivingHost,
		HostID: a.MessageMetadata.ReceivingHostID,
	}
}

// enclosedType returns the first type of a ';' separated type list, without
// its assembly qualification.
func enclosedType(header string) string {
	t, _, _ := strings.Cut(header, ";")
	t, _, _ = strings.Cut(t, ",")
	return strings.TrimSpace(t)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
