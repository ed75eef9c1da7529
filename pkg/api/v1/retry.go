package v1

import "time"

// RetryType names the scope a retry request was issued for.
type RetryType string

const (
	RetrySingleMessage  RetryType = "message"
	RetryAllForEndpoint RetryType = "endpoint"
	RetryFailureGroup   RetryType = "group"
	RetryByQueueAddress RetryType = "queue"
	RetryAll            RetryType = "all"
)

func (t RetryType) IsValid() bool {
	switch t {
	case RetrySingleMessage, RetryAllForEndpoint, RetryFailureGroup, RetryByQueueAddress, RetryAll:
		return true
	}
	return false
}

type HistoricRetryOperation struct {
	RequestID        string    `json:"request_id"`
	RetryType        RetryType `json:"retry_type"`
	StartTime        time.Time `json:"start_time"`
	CompletionTime   time.Time `json:"completion_time"`
	Originator       string    `json:"originator"`
	Classifier       string    `json:"classifier,omitempty"`
	Failed           bool      `json:"failed"`
	NumberOfMessages int       `json:"number_of_messages"`
}

type UnacknowledgedRetryOperation struct {
	RequestID        string    `json:"request_id"`
	RetryType        RetryType `json:"retry_type"`
	StartTime        time.Time `json:"start_time"`
	CompletionTime   time.Time `json:"completion_time"`
	Last             time.Time `json:"last"`
	Originator       string    `json:"originator"`
	Classifier       string    `json:"classifier,omitempty"`
	Failed           bool      `json:"failed"`
	NumberOfMessages int       `json:"number_of_messages"`
}

type RetryHistoryView struct {
	HistoricOperations       []HistoricRetryOperation       `json:"historic_operations"`
	UnacknowledgedOperations []UnacknowledgedRetryOperation `json:"unacknowledged_operations"`
}
