package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
)

var ErrMalformedEntry = errors.New("malformed stream entry")

func encodeMessage(msg OutgoingMessage) (map[string]any, error) {
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		constraints.StreamFieldHeaders: string(headers),
		constraints.StreamFieldBody:    string(msg.Body),
	}, nil
}

// EncodeNotification renders n as stream entry values.
func EncodeNotification(n v1.FailureNotification) map[string]any {
	return map[string]any{
		constraints.StreamFieldPayload: n.ToJSON(),
	}
}

func decodeNotification(values map[string]any) (v1.FailureNotification, error) {
	var n v1.FailureNotification
	raw, ok := values[constraints.StreamFieldPayload].(string)
	if !ok {
		return n, fmt.Errorf("%w: missing %q field", ErrMalformedEntry, constraints.StreamFieldPayload)
	}
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return n, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if err := n.Validate(); err != nil {
		return n, err
	}
	return n, nil
}

func encodeEvent(e v1.Event) (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		constraints.StreamFieldEventType:   e.Type,
		constraints.StreamFieldAggregateID: e.AggregateID,
		constraints.StreamFieldEvent:       string(raw),
	}, nil
}
