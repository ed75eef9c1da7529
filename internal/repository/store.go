package repository

import (
	"context"
	"time"

	"recoverflow/internal/model"
)

// Predicate selects failed messages. Empty fields do not constrain.
// ModifiedBefore is the inclusive snapshot bound on LastModified.
type Predicate struct {
	IDs               []string
	Statuses          []model.FailedMessageStatus
	ReceivingEndpoint string
	FailingAddress    string
	GroupID           string
	ModifiedBefore    time.Time
}

// FailureStore persists FailedMessage aggregates under optimistic
// concurrency. Version is carried on the entity; Create and Save stamp
// LastModified and advance Version on success.
type FailureStore interface {
	Load(ctx context.Context, id string) (*model.FailedMessage, error)
	Create(ctx context.Context, m *model.FailedMessage) error
	Save(ctx context.Context, m *model.FailedMessage, expectedVersion int64) error
	Query(ctx context.Context, p Predicate) ([]string, error)
	BulkConditionalUpdate(ctx context.Context, p Predicate, newStatus model.FailedMessageStatus) ([]string, error)
}

type GroupStore interface {
	// GetGroup resolves both current and legacy group ids.
	GetGroup(ctx context.Context, groupID string) (*model.FailureGroup, error)
	ListGroups(ctx context.Context, classifier string) ([]model.GroupSummary, error)
	SetComment(ctx context.Context, c *model.GroupComment) error
	DeleteComment(ctx context.Context, groupID string) error
}

type BodyStore interface {
	PutBody(ctx context.Context, b *model.MessageBody) error
	GetBody(ctx context.Context, ref string) (*model.MessageBody, error)
}

type RetryStore interface {
	// ClaimedAmong returns the subset of ids owned by an active batch.
	ClaimedAmong(ctx context.Context, ids []string) ([]string, error)
	// StageRetry persists op, its batches and one claim per message in a
	// single transaction. It returns ErrAlreadyExists when op's scope is
	// still active and ErrConcurrencyConflict when a message was claimed
	// concurrently.
	StageRetry(ctx context.Context, op *model.RetryOperation, batches []*model.RetryBatch) error
	GetOperation(ctx context.Context, requestID string) (*model.RetryOperation, error)
	ListOperations(ctx context.Context, activeOnly bool, limit int) ([]*model.RetryOperation, error)
	// CompleteOperation flips Completed exactly once and reports whether this
	// call made the flip.
	CompleteOperation(ctx context.Context, requestID string, failed bool, at time.Time) (bool, error)

	// PickBatches returns staging batches and forwarding batches untouched
	// since staleBefore, oldest first.
	PickBatches(ctx context.Context, staleBefore time.Time, limit int) ([]*model.RetryBatch, error)
	GetBatch(ctx context.Context, id string) (*model.RetryBatch, error)
	SaveBatch(ctx context.Context, b *model.RetryBatch, expectedVersion int64) error
	BatchesForRequest(ctx context.Context, requestID string) ([]*model.RetryBatch, error)
	ReleaseClaims(ctx context.Context, batchID string) error
}

// HistoryStore holds the retry history singleton. A revision of zero means
// the history has never been written.
type HistoryStore interface {
	LoadHistory(ctx context.Context) (*model.RetryHistory, int64, error)
	SaveHistory(ctx context.Context, h *model.RetryHistory, expectedRevision int64) error
}

type OutboxInterface interface {
	Create(ctx context.Context, e *model.OutboxEvent) error
	FetchPending(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id int64, status int, retryCount int) error
}

type IntegrationKeyStore interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (bool, error)
}
