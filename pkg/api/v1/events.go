package v1

import (
	"encoding/json"
	"time"
)

// Event is the envelope every domain event travels in, both on the outbox
// relay and on the live stream. Seq is assigned by the outbox.
type Event struct {
	Seq         int64           `json:"seq"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func NewEvent(eventType, aggregateID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Payload:     raw,
	}, nil
}

func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

type FailureRecorded struct {
	FailedMessageID   string           `json:"failed_message_id"`
	UniqueMessageID   string           `json:"unique_message_id"`
	MessageType       string           `json:"message_type,omitempty"`
	ReceivingEndpoint *EndpointDetails `json:"receiving_endpoint,omitempty"`
	TimeOfFailure     time.Time        `json:"time_of_failure"`
	GroupIDs          []string         `json:"group_ids,omitempty"`
}

type RepeatedFailureRecorded struct {
	FailedMessageID   string           `json:"failed_message_id"`
	UniqueMessageID   string           `json:"unique_message_id"`
	MessageType       string           `json:"message_type,omitempty"`
	ReceivingEndpoint *EndpointDetails `json:"receiving_endpoint,omitempty"`
	TimeOfFailure     time.Time        `json:"time_of_failure"`
	NumberOfAttempts  int              `json:"number_of_attempts"`
	Reopened          bool             `json:"reopened,omitempty"`
	GroupIDs          []string         `json:"group_ids,omitempty"`
}

type RetryOperationCompleted struct {
	RequestID        string    `json:"request_id"`
	RetryType        RetryType `json:"retry_type"`
	Failed           bool      `json:"failed"`
	Progress         float64   `json:"progress"`
	StartTime        time.Time `json:"start_time"`
	CompletionTime   time.Time `json:"completion_time"`
	Originator       string    `json:"originator"`
	Classifier       string    `json:"classifier,omitempty"`
	NumberOfMessages int       `json:"number_of_messages"`
	ForwardedCount   int       `json:"forwarded_count"`
	BatchCount       int       `json:"batch_count"`
}

type MessagesSubmittedForRetry struct {
	RequestID        string    `json:"request_id"`
	RetryType        RetryType `json:"retry_type"`
	BatchID          string    `json:"batch_id"`
	FailedMessageIDs []string  `json:"failed_message_ids"`
	Context          string    `json:"context"`
}

type FailedMessageGroupArchived struct {
	GroupID          string    `json:"group_id"`
	GroupName        string    `json:"group_name"`
	CutOff           time.Time `json:"cut_off"`
	MessagesCount    int       `json:"messages_count"`
	FailedMessageIDs []string  `json:"failed_message_ids"`
}

type FailedMessageGroupUnarchived struct {
	GroupID          string    `json:"group_id"`
	GroupName        string    `json:"group_name"`
	CutOff           time.Time `json:"cut_off"`
	MessagesCount    int       `json:"messages_count"`
	FailedMessageIDs []string  `json:"failed_message_ids"`
}

type MessageFailureResolved struct {
	FailedMessageID string    `json:"failed_message_id"`
	ResolvedAt      time.Time `json:"resolved_at"`
}
