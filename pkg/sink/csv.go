package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/flatten"
	"github.com/driftdata/drift/pkg/schema"
)

// CSVSink writes one CSV file per table under a base directory. Rows are
// buffered keyed by primary key so repeated upserts of the same record
// collapse to one output row; files are written on Flush.
type CSVSink struct {
	dir     string
	bufSize int
	buffer  *MemorySink
	tables  []*schema.Table
}

// NewCSVSink creates a sink writing table files under dir. bufSize is
// the write buffer in bytes; zero or negative selects the default.
func NewCSVSink(dir string, bufSize int) *CSVSink {
	if bufSize <= 0 {
		bufSize = defaultWriteBuffer
	}
	return &CSVSink{dir: dir, bufSize: bufSize, buffer: NewMemorySink()}
}

func (c *CSVSink) CreateTable(ctx context.Context, table *schema.Table) error {
	c.tables = append(c.tables, table)
	return c.buffer.CreateTable(ctx, table)
}

func (c *CSVSink) Upsert(ctx context.Context, table string, rec flatten.FlatRecord) error {
	return c.buffer.Upsert(ctx, table, rec)
}

func (c *CSVSink) Update(ctx context.Context, table string, partial flatten.FlatRecord, keys flatten.FlatRecord) error {
	return c.buffer.Update(ctx, table, partial, keys)
}

func (c *CSVSink) Delete(ctx context.Context, table string, keys flatten.FlatRecord) error {
	return c.buffer.Delete(ctx, table, keys)
}

// Flush writes every declared table to its CSV file, replacing prior
// contents.
func (c *CSVSink) Flush(context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to create output directory")
	}

	for _, table := range c.tables {
		if err := c.writeTable(table); err != nil {
			return err
		}
	}
	return nil
}

func (c *CSVSink) writeTable(table *schema.Table) error {
	path := filepath.Join(c.dir, table.Name+".csv")
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to create "+path)
	}
	defer file.Close()

	buf := bufio.NewWriterSize(file, c.bufSize)
	writer := csv.NewWriter(buf)
	columns := table.SortedColumns()
	if err := writer.Write(columns); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to write CSV header")
	}

	for _, rec := range c.buffer.Rows(table.Name) {
		row := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := rec[col]; ok && v != nil {
				row[i] = fmt.Sprint(v)
			}
		}
		if err := writer.Write(row); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to write CSV row")
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to flush CSV writer")
	}
	if err := buf.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "failed to flush "+path)
	}
	return nil
}

func (c *CSVSink) Close(ctx context.Context) error {
	return c.Flush(ctx)
}
