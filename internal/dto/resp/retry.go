package resp

import (
	"time"

	v1 "recoverflow/pkg/api/v1"
)

type RetryAcceptedResp struct {
	RequestID string `json:"request_id"`
}

type RetryBatchItem struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	InitialBatchSize int       `json:"initial_batch_size"`
	ForwardedCount   int       `json:"forwarded_count"`
	SkippedCount     int       `json:"skipped_count"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	LastModified     time.Time `json:"last_modified"`
}

type RetryOperationResp struct {
	RequestID        string           `json:"request_id"`
	RetrySessionID   string           `json:"retry_session_id"`
	RetryType        v1.RetryType     `json:"retry_type"`
	Originator       string           `json:"originator"`
	Classifier       string           `json:"classifier,omitempty"`
	StartTime        time.Time        `json:"start_time"`
	CompletionTime   *time.Time       `json:"completion_time,omitempty"`
	NumberOfMessages int              `json:"number_of_messages"`
	BatchCount       int              `json:"batch_count"`
	Completed        bool             `json:"completed"`
	Failed           bool             `json:"failed"`
	Batches          []RetryBatchItem `json:"batches,omitempty"`
}

type RetryOperationListResp struct {
	Data []RetryOperationResp `json:"data"`
}

type AcknowledgeResp struct {
	Acknowledged bool `json:"acknowledged"`
}
