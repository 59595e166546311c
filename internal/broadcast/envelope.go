// Package broadcast delivers UI events to the stream overlay: over websocket to
// browser clients and over NATS to any other subscriber.
package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/performer-service/internal/core"
	"github.com/google/uuid"
)

// Envelope is the wire form of a UI event.
type Envelope struct {
	Header  events.EventHeader `json:"header"`
	Event   string             `json:"event"`
	Payload any                `json:"payload,omitempty"`
}

// NewEnvelope stamps an event with a fresh header.
func NewEnvelope(workflowID, event string, payload any) Envelope {
	return Envelope{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: workflowID,
			EventID:    uuid.NewString(),
		},
		Event:   event,
		Payload: payload,
	}
}

func encode(workflowID, event string, payload any) ([]byte, error) {
	data, err := json.Marshal(NewEnvelope(workflowID, event, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	return data, nil
}

// Fanout forwards every event to each of its emitters.
type Fanout []core.Emitter

// Emit implements core.Emitter.
func (f Fanout) Emit(event string, payload any) {
	for _, emitter := range f {
		emitter.Emit(event, payload)
	}
}
