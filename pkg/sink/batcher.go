package sink

import (
	"context"

	"github.com/driftdata/drift/pkg/flatten"
	"github.com/driftdata/drift/pkg/metrics"
)

// CheckpointFunc durably persists the stream's current cursor state.
// The batcher only invokes it after the records covered by the cursor
// were accepted by the sink: upsert first, checkpoint second.
type CheckpointFunc func(ctx context.Context) error

// Batcher delivers records to one table and checkpoints the cursor at
// batch boundaries: after every batchSize records, and at every page
// break, whichever comes first. This bounds crash re-processing to at
// most one batch.
type Batcher struct {
	sink       Sink
	stream     string
	table      string
	batchSize  int
	checkpoint CheckpointFunc

	sinceCheckpoint int
	delivered       int64
}

// NewBatcher wires a sink, a table and a checkpoint callback.
func NewBatcher(s Sink, stream, table string, batchSize int, checkpoint CheckpointFunc) *Batcher {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Batcher{
		sink:       s,
		stream:     stream,
		table:      table,
		batchSize:  batchSize,
		checkpoint: checkpoint,
	}
}

// Deliver upserts one record, checkpointing when the batch fills.
func (b *Batcher) Deliver(ctx context.Context, rec flatten.FlatRecord) error {
	if err := b.sink.Upsert(ctx, b.table, rec); err != nil {
		return err
	}
	b.delivered++
	b.sinceCheckpoint++
	metrics.RecordsSynced.WithLabelValues(b.stream).Inc()

	if b.sinceCheckpoint >= b.batchSize {
		return b.Checkpoint(ctx)
	}
	return nil
}

// PageBreak checkpoints at a page boundary if anything was delivered
// since the last checkpoint.
func (b *Batcher) PageBreak(ctx context.Context) error {
	if b.sinceCheckpoint == 0 {
		return nil
	}
	return b.Checkpoint(ctx)
}

// Checkpoint flushes the sink and persists the cursor state.
func (b *Batcher) Checkpoint(ctx context.Context) error {
	if err := b.sink.Flush(ctx); err != nil {
		return err
	}
	if err := b.checkpoint(ctx); err != nil {
		return err
	}
	metrics.CheckpointsWritten.WithLabelValues(b.stream).Inc()
	b.sinceCheckpoint = 0
	return nil
}

// Finish flushes and writes the final checkpoint of the sync.
func (b *Batcher) Finish(ctx context.Context) error {
	if err := b.sink.Flush(ctx); err != nil {
		return err
	}
	if err := b.checkpoint(ctx); err != nil {
		return err
	}
	metrics.CheckpointsWritten.WithLabelValues(b.stream).Inc()
	b.sinceCheckpoint = 0
	return nil
}

// Delivered returns the number of records delivered so far.
func (b *Batcher) Delivered() int64 {
	return b.delivered
}
