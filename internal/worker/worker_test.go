// Package worker_test tests the NATS chat worker.
package worker_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/performer"
	"github.com/book-expert/performer-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "performer.chat"

// mockHandler is a mock implementation of the ChatHandler interface.
type mockHandler struct {
	mu       sync.Mutex
	outcome  performer.Outcome
	messages []performer.ChatMessage
}

func (m *mockHandler) HandleChat(msg performer.ChatMessage) performer.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)

	return m.outcome
}

func (m *mockHandler) Messages() []performer.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]performer.ChatMessage(nil), m.messages...)
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func setupTest(t *testing.T, outcome performer.Outcome) (*mockHandler, *nats.Conn, <-chan error, context.CancelFunc) {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testLogger.Close()
	})

	handler := &mockHandler{outcome: outcome}
	workerInstance := worker.NewNatsWorker(natsConnection, testSubject, handler, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	// Requests on the same connection are ordered after the worker's SUB.
	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 5*time.Second, 10*time.Millisecond)

	return handler, natsConnection, errChan, cancel
}

func request(t *testing.T, natsConnection *nats.Conn, event worker.ChatEvent) worker.ChatReply {
	t.Helper()

	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testSubject, eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply worker.ChatReply
	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func TestMessageHandler_Admitted(t *testing.T) {
	t.Parallel()

	handler, natsConnection, errChan, cancel := setupTest(t, performer.Admitted)

	event := worker.ChatEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		Username:  "  alice ",
		Text:      "  sing Shape of You  ",
		Moderator: true,
	}

	reply := request(t, natsConnection, event)
	assert.Equal(t, "admitted", reply.Status)
	assert.Empty(t, reply.Error)
	assert.Equal(t, event.Header.WorkflowID, reply.Header.WorkflowID)

	messages := handler.Messages()
	require.NotEmpty(t, messages)
	assert.Equal(t, performer.ChatMessage{Username: "alice", Text: "sing Shape of You", Moderator: true}, messages[len(messages)-1])

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestMessageHandler_ModeratorOnlyWhenFlagged(t *testing.T) {
	t.Parallel()

	handler, natsConnection, _, cancel := setupTest(t, performer.Admitted)
	defer cancel()

	reply := request(t, natsConnection, worker.ChatEvent{Username: "bob", Text: "!clearqueue"})
	assert.Equal(t, "admitted", reply.Status)

	replyMsg, err := natsConnection.Request(testSubject, []byte(`{"username":"mod","text":"!clearqueue","moderator":true}`), 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Equal(t, "admitted", reply.Status)

	assert.Equal(t, []performer.ChatMessage{
		{Username: "bob", Text: "!clearqueue", Moderator: false},
		{Username: "mod", Text: "!clearqueue", Moderator: true},
	}, handler.Messages())
}

func TestMessageHandler_Queued(t *testing.T) {
	t.Parallel()

	_, natsConnection, _, cancel := setupTest(t, performer.Queued)
	defer cancel()

	reply := request(t, natsConnection, worker.ChatEvent{Username: "bob", Text: "hi"})
	assert.Equal(t, "queued", reply.Status)
}

func TestMessageHandler_Rejected(t *testing.T) {
	t.Parallel()

	handler, natsConnection, _, cancel := setupTest(t, performer.Admitted)
	defer cancel()

	before := len(handler.Messages())

	tests := map[string]struct {
		event   worker.ChatEvent
		wantErr error
	}{
		"empty username": {event: worker.ChatEvent{Username: " ", Text: "hi"}, wantErr: worker.ErrUsernameEmpty},
		"empty text":     {event: worker.ChatEvent{Username: "bob", Text: "   "}, wantErr: worker.ErrTextEmpty},
		"too long":       {event: worker.ChatEvent{Username: "bob", Text: strings.Repeat("a", worker.MaxTextLength+1)}, wantErr: worker.ErrTextTooLong},
	}

	for name, tc := range tests {
		reply := request(t, natsConnection, tc.event)
		assert.Equal(t, worker.StatusRejected, reply.Status, name)
		assert.Contains(t, reply.Error, tc.wantErr.Error(), name)
	}

	replyMsg, err := natsConnection.Request(testSubject, []byte("not json"), 5*time.Second)
	require.NoError(t, err)

	var reply worker.ChatReply
	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Equal(t, worker.StatusRejected, reply.Status)

	assert.Len(t, handler.Messages(), before)
}

func TestMessageHandler_NoReplyRequested(t *testing.T) {
	t.Parallel()

	handler, natsConnection, _, cancel := setupTest(t, performer.Admitted)
	defer cancel()

	before := len(handler.Messages())

	data, err := json.Marshal(worker.ChatEvent{Username: "carol", Text: "fire and forget"})
	require.NoError(t, err)
	require.NoError(t, natsConnection.Publish(testSubject, data))

	require.Eventually(t, func() bool {
		return len(handler.Messages()) == before+1
	}, 5*time.Second, 10*time.Millisecond)
}
