package constraints

// Headers stamped on messages forwarded back to their endpoint by a retry.
const (
	HeaderRetryUniqueMessageID = "recoverflow.Retry.UniqueMessageId"
	HeaderRetryBatchID         = "recoverflow.Retry.BatchId"
	HeaderRetryRequestID       = "recoverflow.Retry.RequestId"
	HeaderRetryAttempt         = "recoverflow.Retry.Attempt"
)

// Headers read from failure notifications when the explicit fields are empty.
const (
	HeaderMessageID         = "bus.MessageId"
	HeaderEnclosedTypes     = "bus.EnclosedMessageTypes"
	HeaderOriginatingEP     = "bus.OriginatingEndpoint"
	HeaderProcessingEP      = "bus.ProcessingEndpoint"
	HeaderProcessingMachine = "bus.ProcessingMachine"
	HeaderHostID            = "bus.HostId"
	HeaderTimeSent          = "bus.TimeSent"
	HeaderFailedQ           = "bus.FailedQ"
	HeaderContentType       = "bus.ContentType"
)

// Redis stream fields used by the broker transport.
const (
	StreamFieldPayload     = "payload"
	StreamFieldHeaders     = "headers"
	StreamFieldBody        = "body"
	StreamFieldEvent       = "event"
	StreamFieldEventType   = "type"
	StreamFieldAggregateID = "aggregate_id"
)

// Event names published on the domain event bus.
const (
	EventFailureRecorded              = "FailureRecorded"
	EventRepeatedFailureRecorded      = "RepeatedFailureRecorded"
	EventRetryOperationCompleted      = "RetryOperationCompleted"
	EventMessagesSubmittedForRetry    = "MessagesSubmittedForRetry"
	EventFailedMessageGroupArchived   = "FailedMessageGroupArchived"
	EventFailedMessageGroupUnarchived = "FailedMessageGroupUnarchived"
	EventMessageFailureResolved       = "MessageFailureResolved"
	EventPing                         = "ping"
)
