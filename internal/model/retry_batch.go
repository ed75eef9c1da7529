package model

import (
	"slices"
	"time"

	v1 "recoverflow/pkg/api/v1"
)

type RetryBatchStatus string

const (
	BatchStaging    RetryBatchStatus = "staging"
	BatchForwarding RetryBatchStatus = "forwarding"
	BatchCompleted  RetryBatchStatus = "completed"
	BatchFailed     RetryBatchStatus = "failed"
)

func (s RetryBatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// RetryBatch is a bounded chunk of failed messages forwarded together.
type RetryBatch struct {
	ID               string           `json:"id" gorm:"primaryKey;size:36"`
	RequestID        string           `json:"request_id" gorm:"size:36;index"`
	RetrySessionID   string           `json:"retry_session_id" gorm:"size:36;index"`
	RetryType        v1.RetryType     `json:"retry_type" gorm:"size:16"`
	Originator       string           `json:"originator" gorm:"size:255"`
	Classifier       string           `json:"classifier" gorm:"size:64"`
	Status           RetryBatchStatus `json:"status" gorm:"size:16;index"`
	InitialBatchSize int              `json:"initial_batch_size"`
	ForwardedCount   int              `json:"forwarded_count"`
	// SkippedIDs are messages within ForwardedCount that were not sent
	// because they were no longer retryable.
	SkippedIDs       []string         `json:"skipped_ids,omitempty" gorm:"serializer:json;type:mediumtext"`
	FailedMessageIDs []string         `json:"failed_message_ids" gorm:"serializer:json;type:mediumtext"`
	FailureReason    string           `json:"failure_reason,omitempty" gorm:"type:text"`
	StartTime        time.Time        `json:"start_time" gorm:"precision:6"`
	LastModified     time.Time        `json:"last_modified" gorm:"precision:6;index"`
	Version          int64            `json:"version"`
}

func (b *RetryBatch) Clone() *RetryBatch {
	c := *b
	c.FailedMessageIDs = append([]string(nil), b.FailedMessageIDs...)
	c.SkippedIDs = append([]string(nil), b.SkippedIDs...)
	return &c
}

// SentIDs lists the messages this batch actually sent, in order.
func (b *RetryBatch) SentIDs() []string {
	out := make([]string, 0, b.ForwardedCount-len(b.SkippedIDs))
	for _, id := range b.FailedMessageIDs[:b.ForwardedCount] {
		if !slices.Contains(b.SkippedIDs, id) {
			out = append(out, id)
		}
	}
	return out
}

// RetryClaim marks a failed message as owned by one active batch. The
// primary key on FailedMessageID is what keeps a message out of two active
// batches at once.
type RetryClaim struct {
	FailedMessageID string    `gorm:"primaryKey;size:36"`
	BatchID         string    `gorm:"size:36;index"`
	RequestID       string    `gorm:"size:36;index"`
	CreatedAt       time.Time
}

// RetryOperation is the session record of one retry request. ActiveScope
// holds ScopeKey until the operation completes; its unique index rejects a
// second request for a scope that is still being worked.
type RetryOperation struct {
	RequestID        string       `json:"request_id" gorm:"primaryKey;size:36"`
	RetrySessionID   string       `json:"retry_session_id" gorm:"size:36"`
	RetryType        v1.RetryType `json:"retry_type" gorm:"size:16"`
	ScopeKey         string       `json:"scope_key" gorm:"size:320;index"`
	ActiveScope      *string      `json:"-" gorm:"size:320;uniqueIndex"`
	Originator       string       `json:"originator" gorm:"size:255"`
	Classifier       string       `json:"classifier" gorm:"size:64"`
	StartTime        time.Time    `json:"start_time" gorm:"precision:6"`
	CompletionTime   *time.Time   `json:"completion_time,omitempty" gorm:"precision:6"`
	NumberOfMessages int          `json:"number_of_messages"`
	BatchCount       int          `json:"batch_count"`
	Completed        bool         `json:"completed" gorm:"index"`
	Failed           bool         `json:"failed"`
}

func (o *RetryOperation) Clone() *RetryOperation {
	c := *o
	if o.ActiveScope != nil {
		s := *o.ActiveScope
		c.ActiveScope = &s
	}
	if o.CompletionTime != nil {
		t := *o.CompletionTime
		c.CompletionTime = &t
	}
	return &c
}
