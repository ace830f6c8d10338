package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/yndnr/authpersist/internal/core/domain"
)

// Status is the phase reported by a reply.
type Status string

const (
	StatusAck  Status = "ack"
	StatusDone Status = "done"
)

// Event types exchanged between a page and the indexed-store worker.
const (
	EventKeyChanged = "keyChanged"
	EventPing       = "ping"
)

// Request is the message posted by a Sender.
type Request struct {
	EventType string          `json:"eventType"`
	EventID   string          `json:"eventId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Reply is posted by a Receiver on the request's reply channel.
type Reply struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Status    Status          `json:"status"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// Outcome is the settled result of one handler.
type Outcome struct {
	Fulfilled bool            `json:"fulfilled"`
	Value     json.RawMessage `json:"value,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Code      string          `json:"code,omitempty"`
}

// Decode unmarshals the fulfilled value into target.
func (o Outcome) Decode(target any) error {
	if !o.Fulfilled {
		return fmt.Errorf("outcome rejected: %s", o.Reason)
	}
	if len(o.Value) == 0 {
		return domain.ErrInvalidResponse.WithDetails("outcome has no value")
	}
	if err := json.Unmarshal(o.Value, target); err != nil {
		return domain.ErrInvalidResponse.WithCause(err)
	}
	return nil
}

// KeyChanged is the payload of EventKeyChanged.
type KeyChanged struct {
	Key string `json:"key"`
}

// KeyProcessed is the value returned by a keyChanged handler.
type KeyProcessed struct {
	KeyProcessed bool `json:"keyProcessed"`
}

func fulfilled(v any) Outcome {
	data, err := json.Marshal(v)
	if err != nil {
		return rejected(fmt.Errorf("encode handler result: %w", err))
	}
	return Outcome{Fulfilled: true, Value: data}
}

func rejected(err error) Outcome {
	return Outcome{Reason: err.Error(), Code: domain.GetErrorCode(err)}
}
