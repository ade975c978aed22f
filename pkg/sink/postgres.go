package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/flatten"
	"github.com/driftdata/drift/pkg/schema"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink delivers rows to Postgres tables with
// INSERT ... ON CONFLICT upserts keyed by the declared primary key.
// Statements are queued into a pgx batch and sent once batchSize
// accumulate or on Flush; a checkpoint always flushes first, so cursor
// state never runs ahead of delivered rows.
type PostgresSink struct {
	pool      *pgxpool.Pool
	tables    map[string]*schema.Table
	batchSize int
	pending   pgx.Batch
}

// NewPostgresSink connects to dsn. batchSize caps how many statements
// are queued before a send; zero or negative selects the default.
func NewPostgresSink(ctx context.Context, dsn string, batchSize int) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDelivery, "failed to connect to postgres sink")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &PostgresSink{
		pool:      pool,
		tables:    make(map[string]*schema.Table),
		batchSize: batchSize,
	}, nil
}

// CreateTable creates the destination table if it does not exist, using
// the declared column types. Columns without a declared type default to
// TEXT.
func (p *PostgresSink) CreateTable(ctx context.Context, table *schema.Table) error {
	p.tables[table.Name] = table

	cols := table.SortedColumns()
	defs := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(col), sqlType(table.Columns[col])))
	}
	if len(table.PrimaryKey) > 0 {
		quoted := make([]string, len(table.PrimaryKey))
		for i, k := range table.PrimaryKey {
			quoted[i] = quoteIdent(k)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table.Name), strings.Join(defs, ", "))
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to create table "+table.Name)
	}
	return nil
}

// Upsert inserts or replaces the record by primary key.
func (p *PostgresSink) Upsert(ctx context.Context, table string, rec flatten.FlatRecord) error {
	t, ok := p.tables[table]
	if !ok {
		return errors.Newf(errors.ErrorTypeDelivery, "table %q was not declared", table)
	}
	if _, err := t.Key(rec); err != nil {
		return err
	}

	cols := make([]string, 0, len(rec))
	args := make([]interface{}, 0, len(rec))
	placeholders := make([]string, 0, len(rec))
	for col, v := range rec {
		cols = append(cols, quoteIdent(col))
		args = append(args, v)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	keyCols := make([]string, len(t.PrimaryKey))
	isKey := make(map[string]bool, len(t.PrimaryKey))
	for i, k := range t.PrimaryKey {
		keyCols[i] = quoteIdent(k)
		isKey[k] = true
	}

	var sets []string
	for col := range rec {
		if !isKey[col] {
			q := quoteIdent(col)
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
		}
	}

	var sql string
	if len(sets) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			quoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
			strings.Join(keyCols, ", "))
	} else {
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			quoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
			strings.Join(keyCols, ", "), strings.Join(sets, ", "))
	}

	return p.queue(ctx, sql, args)
}

// Update applies a partial field update to the rows matching keys.
func (p *PostgresSink) Update(ctx context.Context, table string, partial flatten.FlatRecord, keys flatten.FlatRecord) error {
	if len(partial) == 0 {
		return nil
	}

	var args []interface{}
	var sets []string
	for col, v := range partial {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(col), len(args)))
	}
	var wheres []string
	for col, v := range keys {
		args = append(args, v)
		wheres = append(wheres, fmt.Sprintf("%s = $%d", quoteIdent(col), len(args)))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		quoteIdent(table), strings.Join(sets, ", "), strings.Join(wheres, " AND "))
	return p.queue(ctx, sql, args)
}

// Delete removes the rows matching keys.
func (p *PostgresSink) Delete(ctx context.Context, table string, keys flatten.FlatRecord) error {
	var args []interface{}
	var wheres []string
	for col, v := range keys {
		args = append(args, v)
		wheres = append(wheres, fmt.Sprintf("%s = $%d", quoteIdent(col), len(args)))
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(table), strings.Join(wheres, " AND "))
	return p.queue(ctx, sql, args)
}

// queue adds one statement to the pending batch, sending it when full.
// Statements execute in queue order, so mixed upserts, updates and
// deletes keep their delivery order.
func (p *PostgresSink) queue(ctx context.Context, sql string, args []interface{}) error {
	p.pending.Queue(sql, args...)
	if p.pending.Len() >= p.batchSize {
		return p.send(ctx)
	}
	return nil
}

func (p *PostgresSink) send(ctx context.Context) error {
	if p.pending.Len() == 0 {
		return nil
	}
	batch := p.pending
	p.pending = pgx.Batch{}
	if err := p.pool.SendBatch(ctx, &batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "batch delivery failed")
	}
	return nil
}

// Flush sends any queued statements.
func (p *PostgresSink) Flush(ctx context.Context) error {
	return p.send(ctx)
}

// Close sends the remaining statements and releases the pool.
func (p *PostgresSink) Close(ctx context.Context) error {
	err := p.send(ctx)
	p.pool.Close()
	return err
}

func sqlType(ft schema.FieldType) string {
	switch ft {
	case schema.FieldTypeInt:
		return "BIGINT"
	case schema.FieldTypeFloat:
		return "DOUBLE PRECISION"
	case schema.FieldTypeBool:
		return "BOOLEAN"
	case schema.FieldTypeTimestamp:
		return "TIMESTAMPTZ"
	case schema.FieldTypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
