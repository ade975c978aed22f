// Package sink delivers flattened records to destination tables with
// upsert-by-primary-key semantics, and drives cursor checkpoints at safe
// batch boundaries.
package sink

import (
	"context"

	"github.com/driftdata/drift/pkg/flatten"
	"github.com/driftdata/drift/pkg/schema"
)

// Sink is the destination interface. All delivery operations are
// synchronous and idempotent by primary key: delivering the same record
// twice produces no duplicate row.
//
// Delivery failures are not retried by the engine; the sink owns its
// write durability guarantees and failures propagate to the caller.
type Sink interface {
	// CreateTable declares a table before rows are delivered to it.
	CreateTable(ctx context.Context, table *schema.Table) error

	// Upsert inserts or replaces the record by its primary key.
	Upsert(ctx context.Context, table string, rec flatten.FlatRecord) error

	// Update applies a partial field update to the row matching keys.
	Update(ctx context.Context, table string, partial flatten.FlatRecord, keys flatten.FlatRecord) error

	// Delete tombstones the row matching keys. Deleting an absent row
	// is not an error.
	Delete(ctx context.Context, table string, keys flatten.FlatRecord) error

	// Flush forces buffered rows out to the destination.
	Flush(ctx context.Context) error

	// Close flushes and releases resources.
	Close(ctx context.Context) error
}
