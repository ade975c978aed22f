package state

import (
	"context"

	"github.com/driftdata/drift/pkg/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS drift_state (
	stream     TEXT NOT NULL,
	cursor_key TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (stream, cursor_key)
)`

// PostgresStore persists state in a Postgres table, for deployments where
// the sync engine and its destination share a database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the state table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to connect to postgres state store")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to create state table")
	}
	return &PostgresStore{pool: pool}, nil
}

// Load reads all cursor keys for stream. Absent rows yield an empty state.
func (p *PostgresStore) Load(ctx context.Context, stream string) (SyncState, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT cursor_key, value FROM drift_state WHERE stream = $1`, stream)
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
func (p *PostgresStore) Checkpoint(ctx context.Context, stream string, state SyncState) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to begin checkpoint transaction")
	}
	defer tx.Rollback(ctx)

	for key, value := range state {
		_, err := tx.Exec(ctx, `
			INSERT INTO drift_state (stream, cursor_key, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (stream, cursor_key)
			DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			stream, key, value)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeState, "failed to upsert cursor "+key)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to commit checkpoint")
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close(context.Context) error {
	p.pool.Close()
	return nil
}
