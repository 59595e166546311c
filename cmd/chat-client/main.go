// main package for the chat-client, a command-line tool that sends one chat
// message to the performer-service over NATS and prints the admission status.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/performer-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag names.
const (
	flagUsername  = "username"
	flagText      = "text"
	flagModerator = "moderator"
	flagSubject   = "subject"
	flagURL       = "url"
	flagTimeout   = "timeout"
)

// Flag descriptions.
const (
	flagUsernameDesc  = "Chat username of the sender"
	flagTextDesc      = "Chat message text"
	flagModeratorDesc = "Send the message as a moderator"
	flagSubjectDesc   = "NATS subject the performer-service listens on"
	flagURLDesc       = "NATS server URL"
	flagTimeoutDesc   = "How long to wait for the admission reply"
)

const (
	defaultSubject = "performer.chat"
	defaultTimeout = 5 * time.Second
)

var (
	errUsernameRequired = errors.New("--username must be provided")
	errTextRequired     = errors.New("--text must be provided")
	errRejected         = errors.New("message rejected")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	username  string
	text      string
	moderator bool
	subject   string
	url       string
	timeout   time.Duration
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string, out io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	natsConnection, err := nats.Connect(flags.url, nats.Name("performer-chat-client"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", flags.url, err)
	}
	defer natsConnection.Close()

	reply, err := send(natsConnection, flags)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n", reply.Status)

	if reply.Status == worker.StatusRejected {
		return fmt.Errorf("%w: %s", errRejected, reply.Error)
	}

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("chat-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.username, flagUsername, "", flagUsernameDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.BoolVar(&flags.moderator, flagModerator, false, flagModeratorDesc)
	flagSet.StringVar(&flags.subject, flagSubject, defaultSubject, flagSubjectDesc)
	flagSet.StringVar(&flags.url, flagURL, nats.DefaultURL, flagURLDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

func validateFlags(flags appFlags) error {
	if strings.TrimSpace(flags.username) == "" {
		return errUsernameRequired
	}

	if strings.TrimSpace(flags.text) == "" {
		return errTextRequired
	}

	return nil
}

// send publishes the chat event as a request and decodes the reply.
func send(natsConnection *nats.Conn, flags appFlags) (worker.ChatReply, error) {
	var reply worker.ChatReply

	event := worker.ChatEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		Username:  flags.username,
		Text:      flags.text,
		Moderator: flags.moderator,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return reply, fmt.Errorf("failed to marshal chat event: %w", err)
	}

	msg, err := natsConnection.Request(flags.subject, data, flags.timeout)
	if err != nil {
		return reply, fmt.Errorf("no reply on %s: %w", flags.subject, err)
	}

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return reply, fmt.Errorf("failed to decode reply: %w", err)
	}

	return reply, nil
}
