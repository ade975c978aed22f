package state

import (
	"context"
	"database/sql"

	"github.com/driftdata/drift/pkg/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS drift_state (
	stream     TEXT NOT NULL,
	cursor_key TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (stream, cursor_key)
)`

// SQLiteStore persists state in a local SQLite database, the durable
// default for the local runner. Each checkpoint upserts one row per
// cursor key inside a transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the state table exists.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to open sqlite state store")
	}
	// modernc sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY on concurrent checkpoints.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to create state table")
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads all cursor keys for stream. Absent rows yield an empty state.
func (s *SQLiteStore) Load(ctx context.Context, stream string) (SyncState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cursor_key, value FROM drift_state WHERE stream = ?`, stream)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to load state")
	}
	defer rows.Close()

	st := make(SyncState)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to scan state row")
		}
		st[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to iterate state rows")
	}
	return st, nil
}

// Checkpoint upserts every cursor key of state in one transaction.
func (s *SQLiteStore) Checkpoint(ctx context.Context, stream string, state SyncState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to begin checkpoint transaction")
	}
	defer tx.Rollback()

	for key, value := range state {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO drift_state (stream, cursor_key, value, updated_at)
			VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
			ON CONFLICT (stream, cursor_key)
			DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			stream, key, value)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeState, "failed to upsert cursor "+key)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to commit checkpoint")
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}
