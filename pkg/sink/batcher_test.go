package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdata/drift/pkg/flatten"
	"github.com/driftdata/drift/pkg/schema"
)

// opLog records the interleaving of upserts and checkpoints.
type opLog struct {
	*MemorySink
	ops []string
}

func (l *opLog) Upsert(ctx context.Context, table string, rec flatten.FlatRecord) error {
	l.ops = append(l.ops, "upsert")
	return l.MemorySink.Upsert(ctx, table, rec)
}

func newBatcherUnderTest(t *testing.T, batchSize int) (*Batcher, *opLog, *int) {
	t.Helper()
	log := &opLog{MemorySink: NewMemorySink()}
	require.NoError(t, log.CreateTable(context.Background(), schema.NewTable("orders", []string{"id"})))

	checkpoints := 0
	b := NewBatcher(log, "orders", "orders", batchSize, func(context.Context) error {
		log.ops = append(log.ops, "checkpoint")
		checkpoints++
		return nil
	})
	return b, log, &checkpoints
}

func TestBatcher_CheckpointsEveryBatch(t *testing.T) {
	ctx := context.Background()
	b, _, checkpoints := newBatcherUnderTest(t, 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Deliver(ctx, flatten.FlatRecord{"id": float64(i)}))
	}

	assert.Equal(t, 2, *checkpoints, "batch size 2 checkpoints after records 2 and 4")
	assert.Equal(t, int64(5), b.Delivered())
}

func TestBatcher_PageBreakFlushesPartialBatch(t *testing.T) {
	ctx := context.Background()
	b, _, checkpoints := newBatcherUnderTest(t, 100)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Deliver(ctx, flatten.FlatRecord{"id": float64(i)}))
	}
	require.NoError(t, b.PageBreak(ctx))
	assert.Equal(t, 1, *checkpoints)

	// nothing pending, page break is a no-op
	require.NoError(t, b.PageBreak(ctx))
	assert.Equal(t, 1, *checkpoints)
}

func TestBatcher_UpsertAlwaysPrecedesCheckpoint(t *testing.T) {
	ctx := context.Background()
	b, log, _ := newBatcherUnderTest(t, 2)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Deliver(ctx, flatten.FlatRecord{"id": float64(i)}))
	}

	assert.Equal(t,
		[]string{"upsert", "upsert", "checkpoint", "upsert", "upsert", "checkpoint"},
		log.ops,
		"a checkpoint may only cover records already accepted by the sink")
}

func TestBatcher_FinishWritesFinalCheckpoint(t *testing.T) {
	ctx := context.Background()
	b, _, checkpoints := newBatcherUnderTest(t, 100)

	require.NoError(t, b.Deliver(ctx, flatten.FlatRecord{"id": float64(1)}))
	require.NoError(t, b.Finish(ctx))

	assert.Equal(t, 1, *checkpoints)
}

func TestBatcher_DeliveryErrorSkipsCheckpoint(t *testing.T) {
	ctx := context.Background()
	b, _, checkpoints := newBatcherUnderTest(t, 1)

	// missing primary key: the upsert fails, so no checkpoint may follow
	err := b.Deliver(ctx, flatten.FlatRecord{"total": 1.0})
	require.Error(t, err)
	assert.Zero(t, *checkpoints)
	assert.Zero(t, b.Delivered())
}
