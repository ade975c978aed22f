package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdata/drift/pkg/config"
	"github.com/driftdata/drift/pkg/state"
)

func records(n int) []RawRecord {
	recs := make([]RawRecord, n)
	for i := range recs {
		recs[i] = RawRecord{"id": float64(i)}
	}
	return recs
}

func TestNewPaginator_UnknownStrategy(t *testing.T) {
	_, err := NewPaginator(config.PaginationConfig{Strategy: "zigzag"})
	require.Error(t, err)
}

func TestCursorPaginator(t *testing.T) {
	pg, err := NewPaginator(config.PaginationConfig{
		Strategy: config.StrategyCursor,
		PageSize: 50,
	})
	require.NoError(t, err)

	t.Run("fresh start has no token", func(t *testing.T) {
		req := pg.Start(state.SyncState{})
		assert.Empty(t, req.Params.Get("after"))
		assert.Equal(t, "50", req.Params.Get("limit"))
	})

	t.Run("resumes from persisted token", func(t *testing.T) {
		req := pg.Start(state.SyncState{"page_token": "tok-9"})
		assert.Equal(t, "tok-9", req.Params.Get("after"))
	})

	t.Run("follows next token", func(t *testing.T) {
		next, done := pg.Next(PageRequest{}, &Page{Records: records(50), NextToken: "tok-2"})
		assert.False(t, done)
		assert.Equal(t, "tok-2", next.Params.Get("after"))
		assert.Equal(t, "tok-2", next.Position)
	})

	t.Run("done on missing token", func(t *testing.T) {
		_, done := pg.Next(PageRequest{}, &Page{Records: records(50)})
		assert.True(t, done)
	})

	t.Run("done on empty page without token", func(t *testing.T) {
		_, done := pg.Next(PageRequest{}, &Page{})
		assert.True(t, done)
	})

	t.Run("persists the resume token", func(t *testing.T) {
		tr := state.NewTracker("s", config.MonotonicNone, nil)
		pg.Persist(tr, PageRequest{}, &Page{NextToken: "tok-3"})
		assert.Equal(t, "tok-3", tr.Get("page_token"))
	})
}

func TestOffsetPaginator(t *testing.T) {
	pg, err := NewPaginator(config.PaginationConfig{
		Strategy: config.StrategyOffset,
		PageSize: 10,
	})
	require.NoError(t, err)

	t.Run("fresh start at offset zero", func(t *testing.T) {
		req := pg.Start(state.SyncState{})
		assert.Equal(t, "0", req.Params.Get("offset"))
		assert.Equal(t, "10", req.Params.Get("limit"))
	})

	t.Run("resumes from persisted offset", func(t *testing.T) {
		req := pg.Start(state.SyncState{"offset": "120"})
		assert.Equal(t, "120", req.Params.Get("offset"))
	})

	t.Run("advances by records received", func(t *testing.T) {
		prev := pg.Start(state.SyncState{})
		next, done := pg.Next(prev, &Page{Records: records(10), Total: 25})
		require.False(t, done)
		assert.Equal(t, "10", next.Params.Get("offset"))
	})

	t.Run("done when total reached", func(t *testing.T) {
		prev := pg.Start(state.SyncState{"offset": "20"})
		_, done := pg.Next(prev, &Page{Records: records(5), Total: 25})
		assert.True(t, done)
	})

	t.Run("done on short page without total", func(t *testing.T) {
		prev := pg.Start(state.SyncState{})
		_, done := pg.Next(prev, &Page{Records: records(3)})
		assert.True(t, done)
	})

	t.Run("done immediately on empty source", func(t *testing.T) {
		prev := pg.Start(state.SyncState{})
		_, done := pg.Next(prev, &Page{})
		assert.True(t, done)
	})

	t.Run("exact multiple of page size needs the empty page", func(t *testing.T) {
		prev := pg.Start(state.SyncState{})
		next, done := pg.Next(prev, &Page{Records: records(10)})
		require.False(t, done, "a full page without a total cannot prove the end")
		_, done = pg.Next(next, &Page{})
		assert.True(t, done)
	})

	t.Run("persists the next offset", func(t *testing.T) {
		tr := state.NewTracker("s", config.MonotonicNone, nil)
		prev := pg.Start(state.SyncState{"offset": "20"})
		pg.Persist(tr, prev, &Page{Records: records(7)})
		assert.Equal(t, "27", tr.Get("offset"))
	})
}

func TestPageNumberPaginator(t *testing.T) {
	pg, err := NewPaginator(config.PaginationConfig{
		Strategy: config.StrategyPage,
		PageSize: 10,
	})
	require.NoError(t, err)

	t.Run("fresh start at page one", func(t *testing.T) {
		req := pg.Start(state.SyncState{})
		assert.Equal(t, "1", req.Params.Get("page"))
		assert.Equal(t, "10", req.Params.Get("per_page"))
	})

	t.Run("walks to total_pages", func(t *testing.T) {
		prev := pg.Start(state.SyncState{})
		next, done := pg.Next(prev, &Page{Records: records(10), TotalPages: 3})
		require.False(t, done)
		assert.Equal(t, "2", next.Params.Get("page"))

		_, done = pg.Next(next, &Page{Records: records(10), TotalPages: 3})
		require.False(t, done)

		last := pg.Start(state.SyncState{"page": "3"})
		_, done = pg.Next(last, &Page{Records: records(4), TotalPages: 3})
		assert.True(t, done)
	})

	t.Run("done on empty page without total", func(t *testing.T) {
		prev := pg.Start(state.SyncState{})
		_, done := pg.Next(prev, &Page{})
		assert.True(t, done)
	})

	t.Run("persists the next page number", func(t *testing.T) {
		tr := state.NewTracker("s", config.MonotonicNone, nil)
		prev := pg.Start(state.SyncState{"page": "4"})
		pg.Persist(tr, prev, &Page{Records: records(10)})
		assert.Equal(t, "5", tr.Get("page"))
	})
}

func TestIDRangePaginator(t *testing.T) {
	pg, err := NewPaginator(config.PaginationConfig{
		Strategy:  config.StrategyIDRange,
		RangeStep: 100,
	})
	require.NoError(t, err)

	t.Run("fresh start from zero", func(t *testing.T) {
		req := pg.Start(state.SyncState{})
		assert.Equal(t, "0", req.Params.Get("start_id"))
		assert.Equal(t, "100", req.Params.Get("end_id"))
	})

	t.Run("walks windows up to max id", func(t *testing.T) {
		prev := pg.Start(state.SyncState{})
		next, done := pg.Next(prev, &Page{Records: records(40), MaxID: 250})
		require.False(t, done)
		assert.Equal(t, "100", next.Params.Get("start_id"))

		next, done = pg.Next(next, &Page{Records: records(40), MaxID: 250})
		require.False(t, done)

		_, done = pg.Next(next, &Page{Records: records(20), MaxID: 250})
		assert.True(t, done)
	})

	t.Run("sparse window does not end the walk when max id remains", func(t *testing.T) {
		prev := pg.Start(state.SyncState{})
		_, done := pg.Next(prev, &Page{MaxID: 500})
		assert.False(t, done, "an empty window below max_id is a gap, not the end")
	})

	t.Run("without max id an empty window ends the walk", func(t *testing.T) {
		prev := pg.Start(state.SyncState{})
		_, done := pg.Next(prev, &Page{})
		assert.True(t, done)
	})

	t.Run("persists the next window start", func(t *testing.T) {
		tr := state.NewTracker("s", config.MonotonicNone, nil)
		prev := pg.Start(state.SyncState{"range_from": "300"})
		pg.Persist(tr, prev, &Page{Records: records(10)})
		assert.Equal(t, "400", tr.Get("range_from"))
	})
}
