// Package store persists conversation records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/fileutil"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	username TEXT NOT NULL,
	content TEXT NOT NULL,
	in_response_to TEXT NOT NULL DEFAULT '',
	auto_talk INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages(username, created_at DESC);
`

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidRecord is returned for records without a kind or content.
var ErrInvalidRecord = errors.New("invalid record")

// SQLiteStore implements core.MessageStore.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	err := fileutil.EnsureDir(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrPersistenceFailed, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", core.ErrPersistenceFailed, err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: ping database: %w", core.ErrPersistenceFailed, err)
	}

	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: migrate database: %w", core.ErrPersistenceFailed, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores a record. A zero CreatedAt is stamped with the current time.
func (s *SQLiteStore) Append(ctx context.Context, record core.Record) error {
	if record.Kind == "" || record.Content == "" {
		return fmt.Errorf("%w: %w", core.ErrPersistenceFailed, ErrInvalidRecord)
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO messages (id, kind, username, content, in_response_to, auto_talk, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		string(record.Kind),
		record.Username,
		record.Content,
		record.InResponseTo,
		record.AutoTalk,
		record.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: append record: %w", core.ErrPersistenceFailed, err)
	}

	return nil
}

// Recent returns up to limit of the user's own messages, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, username string, limit int) ([]core.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT kind, username, content, in_response_to, auto_talk, created_at FROM (
		SELECT rowid AS seq, kind, username, content, in_response_to, auto_talk, created_at
		FROM messages
		WHERE username = ? AND kind = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	) ORDER BY created_at ASC, seq ASC`,
		username, string(core.RecordUser), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query history: %w", core.ErrPersistenceFailed, err)
	}
	defer rows.Close()

	var records []core.Record

	for rows.Next() {
		var (
			record    core.Record
			kind      string
			createdAt string
		)

		err = rows.Scan(&kind, &record.Username, &record.Content, &record.InResponseTo, &record.AutoTalk, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan history: %w", core.ErrPersistenceFailed, err)
		}

		record.Kind = core.RecordKind(kind)

		record.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: parse timestamp %q: %w", core.ErrPersistenceFailed, createdAt, err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("%w: iterate history: %w", core.ErrPersistenceFailed, err)
	}

	return records, nil
}

// Count returns the number of stored records of kind.
func (s *SQLiteStore) Count(ctx context.Context, kind core.RecordKind) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE kind = ?`, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count records: %w", core.ErrPersistenceFailed, err)
	}

	return count, nil
}
