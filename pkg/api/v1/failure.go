package v1

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrInvalidNotification = errors.New("invalid failure notification")

// EndpointDetails identifies a logical endpoint and, when known, the
// physical instance that ran it.
type EndpointDetails struct {
	Name   string `json:"name"`
	Host   string `json:"host,omitempty"`
	HostID string `json:"host_id,omitempty"`
}

type FailureDetails struct {
	ExceptionType            string    `json:"exception_type"`
	ExceptionMessage         string    `json:"exception_message"`
	ExceptionSource          string    `json:"exception_source,omitempty"`
	StackTrace               string    `json:"stack_trace,omitempty"`
	AddressOfFailingEndpoint string    `json:"address_of_failing_endpoint"`
	TimeOfFailure            time.Time `json:"time_of_failure"`
}

// FailureNotification is what the broker's error queue delivers for every
// message that exhausted its in-endpoint retries.
type FailureNotification struct {
	UniqueMessageID   string            `json:"unique_message_id"`
	MessageID         string            `json:"message_id"`
	MessageType       string            `json:"message_type,omitempty"`
	ContentType       string            `json:"content_type,omitempty"`
	TimeSent          time.Time         `json:"time_sent,omitempty"`
	SendingEndpoint   *EndpointDetails  `json:"sending_endpoint,omitempty"`
	ReceivingEndpoint *EndpointDetails  `json:"receiving_endpoint,omitempty"`
	Headers           map[string]string `json:"headers"`
	Body              []byte            `json:"body"`
	Failure           FailureDetails    `json:"failure"`
}

func (n *FailureNotification) Validate() error {
	if n.UniqueMessageID == "" {
		return errors.Join(ErrInvalidNotification, errors.New("unique_message_id is required"))
	}
	if n.Failure.TimeOfFailure.IsZero() {
		return errors.Join(ErrInvalidNotification, errors.New("failure.time_of_failure is required"))
	}
	return nil
}

func (n *FailureNotification) ToJSON() string {
	b, err := json.Marshal(n)
	if err != nil {
		panic("recoverflow notification serialization failed" + err.Error())
	}
	return string(b)
}
