package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/flatten"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  FieldType
	}{
		{"bool", true, FieldTypeBool},
		{"integral float", float64(42), FieldTypeInt},
		{"fractional float", 3.14, FieldTypeFloat},
		{"int", 7, FieldTypeInt},
		{"plain string", "hello", FieldTypeString},
		{"timestamp", "2024-06-01T10:00:00Z", FieldTypeTimestamp},
		{"json array string", `["a","b"]`, FieldTypeJSON},
		{"json object string", `{"a":1}`, FieldTypeJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferType(tt.value))
		})
	}
}

func TestTable_Observe(t *testing.T) {
	tbl := NewTable("orders", []string{"id"})

	tbl.Observe(flatten.FlatRecord{"id": float64(1), "total": 9.5})
	assert.Equal(t, FieldTypeInt, tbl.Columns["id"])
	assert.Equal(t, FieldTypeFloat, tbl.Columns["total"])

	// later values do not retype a column
	tbl.Observe(flatten.FlatRecord{"id": "abc"})
	assert.Equal(t, FieldTypeInt, tbl.Columns["id"])
}

func TestTable_SortedColumnsKeysFirst(t *testing.T) {
	tbl := NewTable("orders", []string{"region", "id"})
	tbl.Observe(flatten.FlatRecord{
		"total":  1.0,
		"id":     float64(1),
		"addr":   "x",
		"region": "eu",
	})

	assert.Equal(t, []string{"id", "region", "addr", "total"}, tbl.SortedColumns())
}

func TestTable_Key(t *testing.T) {
	tbl := NewTable("orders", []string{"region", "id"})

	key, err := tbl.Key(flatten.FlatRecord{"region": "eu", "id": float64(7), "total": 1.5})
	require.NoError(t, err)
	assert.Equal(t, "eu\x1f7", key)

	_, err = tbl.Key(flatten.FlatRecord{"region": "eu"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDelivery))
}
