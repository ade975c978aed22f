package sink

import (
	"context"
	"sync"

	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/flatten"
	"github.com/driftdata/drift/pkg/schema"
)

// MemorySink keeps delivered rows in memory, keyed by primary key. It
// backs the local debug runner and the engine tests, where the observable
// table contents verify idempotent delivery.
type MemorySink struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	schema *schema.Table
	rows   map[string]flatten.FlatRecord
	order  []string
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{tables: make(map[string]*memTable)}
}

// CreateTable declares a table. Re-declaring an existing table keeps its
// rows and replaces its schema.
func (m *MemorySink) CreateTable(_ context.Context, table *schema.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[table.Name]; ok {
		t.schema = table
		return nil
	}
	m.tables[table.Name] = &memTable{
		schema: table,
		rows:   make(map[string]flatten.FlatRecord),
	}
	return nil
}

// Upsert inserts or replaces the record by primary key.
func (m *MemorySink) Upsert(_ context.Context, table string, rec flatten.FlatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(table)
	if err != nil {
		return err
	}

	key, err := t.schema.Key(rec)
	if err != nil {
		return err
	}

	t.schema.Observe(rec)
	if _, exists := t.rows[key]; !exists {
		t.order = append(t.order, key)
	}
	t.rows[key] = rec.Clone()
	return nil
}

// Update applies a partial field update to the row matching keys.
// Updating an absent row is a delivery error.
func (m *MemorySink) Update(_ context.Context, table string, partial flatten.FlatRecord, keys flatten.FlatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(table)
	if err != nil {
		return err
	}

	key, err := t.schema.Key(keys)
	if err != nil {
		return err
	}

	row, ok := t.rows[key]
	if !ok {
		return errors.Newf(errors.ErrorTypeDelivery, "no row with key %q in table %q", key, table)
	}
	for col, v := range partial {
		row[col] = v
	}
	return nil
}

// Delete removes the row matching keys, if present.
func (m *MemorySink) Delete(_ context.Context, table string, keys flatten.FlatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(table)
	if err != nil {
		return err
	}

	key, err := t.schema.Key(keys)
	if err != nil {
		return err
	}

	if _, ok := t.rows[key]; ok {
		delete(t.rows, key)
		for i, k := range t.order {
			if k == key {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Flush is a no-op for the memory sink.
func (m *MemorySink) Flush(context.Context) error {
	return nil
}

// Close is a no-op for the memory sink.
func (m *MemorySink) Close(context.Context) error {
	return nil
}

// Rows returns the table's rows in first-insertion order.
func (m *MemorySink) Rows(table string) []flatten.FlatRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	rows := make([]flatten.FlatRecord, 0, len(t.order))
	for _, key := range t.order {
		rows = append(rows, t.rows[key].Clone())
	}
	return rows
}

// Count returns the number of rows in table.
func (m *MemorySink) Count(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tables[table]; ok {
		return len(t.rows)
	}
	return 0
}

func (m *MemorySink) table(name string) (*memTable, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeDelivery, "table %q was not declared", name)
	}
	return t, nil
}
