// Package schema declares destination tables: name, primary key, and
// column types. Columns not declared explicitly are inferred by the sink
// from the first values seen.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/flatten"
)

// FieldType represents the data type of a column
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeJSON      FieldType = "json"
)

// Table describes one destination table.
type Table struct {
	Name       string               `json:"name"`
	PrimaryKey []string             `json:"primary_key"`
	Columns    map[string]FieldType `json:"columns"`
}

// NewTable declares a table with the given primary key and no explicit
// column types.
func NewTable(name string, primaryKey []string) *Table {
	return &Table{
		Name:       name,
		PrimaryKey: primaryKey,
		Columns:    make(map[string]FieldType),
	}
}

// Observe infers and records column types from the first values seen.
// Already-typed columns are left alone.
func (t *Table) Observe(rec flatten.FlatRecord) {
	for col, v := range rec {
		if _, ok := t.Columns[col]; ok {
			continue
		}
		t.Columns[col] = InferType(v)
	}
}

// SortedColumns returns the column names in stable order, primary key
// columns first.
func (t *Table) SortedColumns() []string {
	isKey := make(map[string]bool, len(t.PrimaryKey))
	for _, k := range t.PrimaryKey {
		isKey[k] = true
	}

	var keys, rest []string
	for col := range t.Columns {
		if isKey[col] {
			keys = append(keys, col)
		} else {
			rest = append(rest, col)
		}
	}
	sort.Strings(keys)
	sort.Strings(rest)
	return append(keys, rest...)
}

// Key derives the composite primary key value of a record. A record
// missing a key column cannot be delivered.
func (t *Table) Key(rec flatten.FlatRecord) (string, error) {
	parts := make([]string, 0, len(t.PrimaryKey))
	for _, col := range t.PrimaryKey {
		v, ok := rec[col]
		if !ok || v == nil {
			return "", errors.Newf(errors.ErrorTypeDelivery,
				"record for table %q is missing primary key column %q", t.Name, col)
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "\x1f"), nil
}

// InferType maps a value to a column type.
func InferType(v interface{}) FieldType {
	switch x := v.(type) {
	case bool:
		return FieldTypeBool
	case int, int32, int64:
		return FieldTypeInt
	case float32:
		return FieldTypeFloat
	case float64:
		// JSON numbers decode as float64; keep integral values as ints
		if x == float64(int64(x)) {
			return FieldTypeInt
		}
		return FieldTypeFloat
	case string:
		if _, err := time.Parse(time.RFC3339, x); err == nil {
			return FieldTypeTimestamp
		}
		if len(x) > 1 && (x[0] == '[' || x[0] == '{') {
			return FieldTypeJSON
		}
		return FieldTypeString
	default:
		return FieldTypeString
	}
}
