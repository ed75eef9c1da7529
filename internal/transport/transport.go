package transport

import (
	"context"

	v1 "recoverflow/pkg/api/v1"
)

// OutgoingMessage is a physical message sent back to an endpoint queue.
type OutgoingMessage struct {
	Destination string
	Headers     map[string]string
	Body        []byte
}

// Delivery is one received failure notification. DecodeErr is set when the
// raw entry could not be turned into a notification; such deliveries should
// be acked and dropped.
type Delivery struct {
	ID           string
	Stream       string
	Notification v1.FailureNotification
	DecodeErr    error
}

type Sender interface {
	Send(ctx context.Context, msg OutgoingMessage) error
}

type Receiver interface {
	Receive(ctx context.Context) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, e v1.Event) error
}
