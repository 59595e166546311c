package broadcast

import (
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

// Publisher implements core.Emitter by publishing envelopes to NATS.
// The event name is appended to subject, so subscribers can filter with
// "<subject>.song-update" or take everything with "<subject>.>".
type Publisher struct {
	natsConnection *nats.Conn
	subject        string
	workflow       string
	log            *logger.Logger
}

// NewPublisher creates a Publisher rooted at subject.
func NewPublisher(natsConnection *nats.Conn, subject, workflowID string, log *logger.Logger) *Publisher {
	return &Publisher{natsConnection: natsConnection, subject: subject, workflow: workflowID, log: log}
}

// Emit publishes the event. Failures are logged.
func (p *Publisher) Emit(event string, payload any) {
	data, err := encode(p.workflow, event, payload)
	if err != nil {
		p.log.Error("%v", err)

		return
	}

	err = p.natsConnection.Publish(p.subject+"."+event, data)
	if err != nil {
		p.log.Warn("Failed to publish %s event: %v", event, err)
	}
}
