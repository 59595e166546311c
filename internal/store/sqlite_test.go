package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "data", "performer.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func TestSQLiteStore_AppendAndRecent(t *testing.T) {
	t.Parallel()

	db := openStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

	for i := range 5 {
		require.NoError(t, db.Append(ctx, core.Record{
			Kind:      core.RecordUser,
			Username:  "alice",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, db.Append(ctx, core.Record{
		Kind:         core.RecordAssistant,
		Username:     "alice",
		Content:      "reply",
		InResponseTo: "message 4",
		CreatedAt:    base.Add(10 * time.Second),
	}))
	require.NoError(t, db.Append(ctx, core.Record{Kind: core.RecordUser, Username: "bob", Content: "hi"}))

	recent, err := db.Recent(ctx, "alice", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	assert.Equal(t, "message 2", recent[0].Content)
	assert.Equal(t, "message 4", recent[2].Content)
	assert.Equal(t, core.RecordUser, recent[0].Kind)
	assert.True(t, recent[0].CreatedAt.Equal(base.Add(2*time.Second)))

	none, err := db.Recent(ctx, "carol", 3)
	require.NoError(t, err)
	assert.Empty(t, none)

	zero, err := db.Recent(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, zero)
}

func TestSQLiteStore_SameTimestampKeepsInsertOrder(t *testing.T) {
	t.Parallel()

	db := openStore(t)
	ctx := context.Background()
	at := time.Now()

	for _, content := range []string{"first", "second"} {
		require.NoError(t, db.Append(ctx, core.Record{Kind: core.RecordUser, Username: "alice", Content: content, CreatedAt: at}))
	}

	recent, err := db.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "first", recent[0].Content)
	assert.Equal(t, "second", recent[1].Content)
}

func TestSQLiteStore_AutoTalkAndCount(t *testing.T) {
	t.Parallel()

	db := openStore(t)
	ctx := context.Background()

	require.NoError(t, db.Append(ctx, core.Record{Kind: core.RecordAssistant, Username: "performer", Content: "musing", AutoTalk: true}))
	require.NoError(t, db.Append(ctx, core.Record{Kind: core.RecordError, Username: "performer", Content: "speech failed"}))

	assistants, err := db.Count(ctx, core.RecordAssistant)
	require.NoError(t, err)
	assert.Equal(t, 1, assistants)

	errs, err := db.Count(ctx, core.RecordError)
	require.NoError(t, err)
	assert.Equal(t, 1, errs)
}

func TestSQLiteStore_RejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	db := openStore(t)

	err := db.Append(context.Background(), core.Record{Kind: core.RecordUser, Username: "alice"})
	require.ErrorIs(t, err, store.ErrInvalidRecord)
	require.ErrorIs(t, err, core.ErrPersistenceFailed)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "performer.db")
	ctx := context.Background()

	db, err := store.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Append(ctx, core.Record{Kind: core.RecordUser, Username: "alice", Content: "remember me"}))
	require.NoError(t, db.Close())

	reopened, err := store.Open(ctx, path)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = reopened.Close()
	})

	recent, err := reopened.Recent(ctx, "alice", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "remember me", recent[0].Content)
}
