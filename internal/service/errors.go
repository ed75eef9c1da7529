package service

import "errors"

var (
	// ErrFailedAfterResolution means a failure was reported for a time after
	// the message had already been processed successfully.
	ErrFailedAfterResolution    = errors.New("message failed after it was resolved")
	ErrConflictRetriesExhausted = errors.New("concurrency conflict retries exhausted")
	ErrRetryInProgress          = errors.New("a retry for this scope is already in progress")
	ErrInvalidScope             = errors.New("invalid retry scope")
	ErrGroupNotFound            = errors.New("failure group not found")
	ErrMessageNotFound          = errors.New("failed message not found")
)
