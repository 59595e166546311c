// Package worker provides a NATS worker that feeds chat messages to the performer.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/metrics"
	"github.com/book-expert/performer-service/internal/performer"
	"github.com/nats-io/nats.go"
)

// MaxTextLength is the longest chat message accepted, in characters.
const MaxTextLength = 500

// StatusRejected is the reply status of a message that failed validation.
const StatusRejected = "rejected"

var (
	// ErrUsernameEmpty indicates that the chat message has no author.
	ErrUsernameEmpty = errors.New("username cannot be empty")
	// ErrTextEmpty indicates that the chat message has no text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrTextTooLong indicates that the chat message exceeds MaxTextLength.
	ErrTextTooLong = errors.New("text is too long")
)

// ChatEvent is the JSON form of a chat message on the chat subject.
type ChatEvent struct {
	Header   events.EventHeader `json:"header"`
	Username string             `json:"username"`
	Text     string             `json:"text"`
	// Moderator is taken as-is. Only the trusted chat ingestion bridge may
	// publish on the chat subject; restrict the subject with NATS
	// permissions where other clients share the server.
	Moderator bool `json:"moderator,omitempty"`
}

// ChatReply answers a ChatEvent request with the admission status.
type ChatReply struct {
	Header events.EventHeader `json:"header"`
	Status string             `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// ChatHandler admits chat messages.
type ChatHandler interface {
	HandleChat(msg performer.ChatMessage) performer.Outcome
}

// NatsWorker listens for chat messages on a NATS subject. It does not
// authenticate publishers, so the subject must be writable only by the
// chat ingestion bridge that vouches for ChatEvent.Moderator.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	handler        ChatHandler
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(natsConnection *nats.Conn, subject string, handler ChatHandler, log *logger.Logger) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		handler:        handler,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.System("Listening for chat on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Rejected chat message: %v", err)
		metrics.ChatMessages.WithLabelValues(StatusRejected).Inc()

		w.reply(msg, ChatReply{Header: event.Header, Status: StatusRejected, Error: err.Error()})

		return
	}

	outcome := w.handler.HandleChat(performer.ChatMessage{
		Username:  strings.TrimSpace(event.Username),
		Text:      strings.TrimSpace(event.Text),
		Moderator: event.Moderator,
	})

	metrics.ChatMessages.WithLabelValues(outcome.String()).Inc()
	w.log.Info("Chat from %s %s", event.Username, outcome)

	w.reply(msg, ChatReply{Header: event.Header, Status: outcome.String()})
}

// reply responds when the sender asked for one.
func (w *NatsWorker) reply(msg *nats.Msg, reply ChatReply) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal chat reply: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish chat reply: %v", err)
	}
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (ChatEvent, error) {
	var event ChatEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return event, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return event, validateChatEvent(event)
}

func validateChatEvent(event ChatEvent) error {
	if strings.TrimSpace(event.Username) == "" {
		return ErrUsernameEmpty
	}

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return ErrTextEmpty
	}

	if utf8.RuneCountInString(text) > MaxTextLength {
		return fmt.Errorf("%w: %d characters, limit %d", ErrTextTooLong, utf8.RuneCountInString(text), MaxTextLength)
	}

	return nil
}
