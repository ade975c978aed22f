package sink

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/flatten"
	"github.com/driftdata/drift/pkg/schema"
	gojson "github.com/goccy/go-json"
)

// JSONLSink writes one JSON-lines file per table under a base directory.
// Like the CSV sink it buffers keyed by primary key and writes on Flush,
// so repeated deliveries of a record yield one output line.
type JSONLSink struct {
	dir     string
	bufSize int
	buffer  *MemorySink
	tables  []*schema.Table
}

// defaultWriteBuffer is the write buffer size, in bytes, for file sinks
// created without an explicit one.
const defaultWriteBuffer = 2048

// NewJSONLSink creates a sink writing table files under dir. bufSize is
// the write buffer in bytes; zero or negative selects the default.
func NewJSONLSink(dir string, bufSize int) *JSONLSink {
	if bufSize <= 0 {
		bufSize = defaultWriteBuffer
	}
	return &JSONLSink{dir: dir, bufSize: bufSize, buffer: NewMemorySink()}
}

func (j *JSONLSink) CreateTable(ctx context.Context, table *schema.Table) error {
	j.tables = append(j.tables, table)
	return j.buffer.CreateTable(ctx, table)
}

func (j *JSONLSink) Upsert(ctx context.Context, table string, rec flatten.FlatRecord) error {
	return j.buffer.Upsert(ctx, table, rec)
}

func (j *JSONLSink) Update(ctx context.Context, table string, partial flatten.FlatRecord, keys flatten.FlatRecord) error {
	return j.buffer.Update(ctx, table, partial, keys)
}

func (j *JSONLSink) Delete(ctx context.Context, table string, keys flatten.FlatRecord) error {
	return j.buffer.Delete(ctx, table, keys)
}

// Flush writes every declared table to its .jsonl file.
func (j *JSONLSink) Flush(context.Context) error {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to create output directory")
	}

	for _, table := range j.tables {
		path := filepath.Join(j.dir, table.Name+".jsonl")
		file, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to create "+path)
		}

		w := bufio.NewWriterSize(file, j.bufSize)
		enc := gojson.NewEncoder(w)
		for _, rec := range j.buffer.Rows(table.Name) {
			if err := enc.Encode(rec); err != nil {
				file.Close()
				return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to encode row")
			}
		}
		if err := w.Flush(); err != nil {
			file.Close()
			return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to flush "+path)
		}
		if err := file.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to close "+path)
		}
	}
	return nil
}

func (j *JSONLSink) Close(ctx context.Context) error {
	return j.Flush(ctx)
}
