package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/book-expert/performer-service/internal/worker"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags([]string{"--username", "alice", "--text", "sing Shape of You", "--moderator", "--timeout", "2s"})
	require.NoError(t, err)

	assert.Equal(t, "alice", flags.username)
	assert.Equal(t, "sing Shape of You", flags.text)
	assert.True(t, flags.moderator)
	assert.Equal(t, defaultSubject, flags.subject)
	assert.Equal(t, nats.DefaultURL, flags.url)
	assert.Equal(t, 2*time.Second, flags.timeout)

	_, err = parseFlags([]string{"--nope"})
	require.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   appFlags
		wantErr error
	}{
		{name: "valid", flags: appFlags{username: "alice", text: "hi"}},
		{name: "missing username", flags: appFlags{text: "hi"}, wantErr: errUsernameRequired},
		{name: "blank text", flags: appFlags{username: "alice", text: "  "}, wantErr: errTextRequired},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateFlags(testCase.flags)
			if testCase.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func startResponder(t *testing.T, reply worker.ChatReply) (string, <-chan worker.ChatEvent) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	received := make(chan worker.ChatEvent, 1)

	_, err = natsConnection.Subscribe(defaultSubject, func(msg *nats.Msg) {
		var event worker.ChatEvent
		if json.Unmarshal(msg.Data, &event) == nil {
			received <- event
		}

		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	require.NoError(t, err)
	require.NoError(t, natsConnection.Flush())

	return natsServer.ClientURL(), received
}

func TestRun_Admitted(t *testing.T) {
	t.Parallel()

	url, received := startResponder(t, worker.ChatReply{Status: "admitted"})

	var out bytes.Buffer

	err := run([]string{"--url", url, "--username", "alice", "--text", "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "admitted\n", out.String())

	event := <-received
	assert.Equal(t, "alice", event.Username)
	assert.Equal(t, "hello", event.Text)
	assert.NotEmpty(t, event.Header.EventID)
}

func TestRun_Rejected(t *testing.T) {
	t.Parallel()

	url, _ := startResponder(t, worker.ChatReply{Status: worker.StatusRejected, Error: "text is too long"})

	var out bytes.Buffer

	err := run([]string{"--url", url, "--username", "alice", "--text", "hello"}, &out)
	require.ErrorIs(t, err, errRejected)
	assert.Contains(t, err.Error(), "text is too long")
	assert.Equal(t, "rejected\n", out.String())
}
