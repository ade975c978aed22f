// Package engine runs sync invocations. It wires the cursor store, the
// paginated fetcher, the flattener, and the sink into one loop per
// stream, checkpointing cursor state only after the records it covers
// have been delivered.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/driftdata/drift/pkg/config"
	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/fetch"
	"github.com/driftdata/drift/pkg/flatten"
	"github.com/driftdata/drift/pkg/logger"
	"github.com/driftdata/drift/pkg/metrics"
	"github.com/driftdata/drift/pkg/schema"
	"github.com/driftdata/drift/pkg/sink"
	"github.com/driftdata/drift/pkg/state"
)

// Phase is the lifecycle state of one stream sync.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhaseLoadingState  Phase = "loading_state"
	PhaseFetching      Phase = "fetching"
	PhaseNormalizing   Phase = "normalizing"
	PhaseDelivering    Phase = "delivering"
	PhaseCheckpointing Phase = "checkpointing"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
)

// FetcherFactory builds the fetcher for a stream. Tests substitute it
// to point the engine at local servers.
type FetcherFactory func(ctx context.Context, cfg *config.SyncConfig, stream string) *fetch.Fetcher

// StreamResult reports the outcome of one stream sync.
type StreamResult struct {
	Stream    string
	Phase     Phase
	Pages     int64
	Delivered int64
	Skipped   int64
	Err       error
}

// Engine executes one sync invocation over the configured streams.
type Engine struct {
	cfg        *config.SyncConfig
	store      state.Store
	sink       sink.Sink
	newFetcher FetcherFactory
	log        *zap.Logger
}

// Option configures an Engine.
type Option func(e *Engine)

// WithFetcherFactory overrides how per-stream fetchers are built.
func WithFetcherFactory(f FetcherFactory) Option {
	return func(e *Engine) { e.newFetcher = f }
}

// New creates an engine for one invocation. The store and sink are
// owned by the caller; the engine does not close them.
func New(cfg *config.SyncConfig, store state.Store, snk sink.Sink, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      store,
		sink:       snk,
		newFetcher: fetch.NewFetcherFromConfig,
		log:        logger.Get().With(zap.String("invocation", cfg.Name)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run syncs every configured stream sequentially. A failing stream is
// recorded and does not stop its siblings; the returned error joins the
// per-stream failures, nil when all streams completed.
func (e *Engine) Run(ctx context.Context) ([]StreamResult, error) {
	results := make([]StreamResult, 0, len(e.cfg.Streams))
	var failures []error

	for i := range e.cfg.Streams {
		stream := &e.cfg.Streams[i]
		res := e.syncStream(ctx, stream)
		results = append(results, res)

		if res.Err != nil {
			metrics.StreamFailures.WithLabelValues(stream.Name, string(errors.TypeOf(res.Err))).Inc()
			e.log.Error("stream sync failed",
				zap.String("stream", stream.Name),
				zap.Int64("delivered", res.Delivered),
				zap.Error(res.Err))
			failures = append(failures, fmt.Errorf("stream %s: %w", stream.Name, res.Err))
			continue
		}
		e.log.Info("stream sync complete",
			zap.String("stream", stream.Name),
			zap.Int64("pages", res.Pages),
			zap.Int64("delivered", res.Delivered),
			zap.Int64("skipped", res.Skipped))
	}

	if len(failures) > 0 {
		return results, errors.Join(failures...)
	}
	return results, nil
}

// streamSync carries the per-stream loop state.
type streamSync struct {
	engine  *Engine
	cfg     *config.StreamConfig
	log     *zap.Logger
	tracker *state.Tracker
	table   *schema.Table
	batcher *sink.Batcher
	res     StreamResult
}

func (e *Engine) syncStream(ctx context.Context, sc *config.StreamConfig) StreamResult {
	s := &streamSync{
		engine: e,
		cfg:    sc,
		log:    e.log.With(zap.String("stream", sc.Name)),
		res:    StreamResult{Stream: sc.Name, Phase: PhaseInit},
	}

	if err := s.run(ctx); err != nil {
		s.res.Phase = PhaseFailed
		s.res.Err = err
	} else {
		s.res.Phase = PhaseDone
	}
	// Records delivered before an abort still count.
	if s.batcher != nil {
		s.res.Delivered = s.batcher.Delivered()
	}
	return s.res
}

func (s *streamSync) run(ctx context.Context) error {
	ctx = context.WithValue(ctx, logger.StreamKey, s.cfg.Name)

	s.phase(PhaseLoadingState)
	loaded, err := s.engine.store.Load(ctx, s.cfg.Name)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "loading cursor state")
	}
	if s.cfg.Cursor.Initial != "" && loaded.Get(s.cfg.Cursor.Key) == "" {
		loaded = loaded.Clone()
		loaded[s.cfg.Cursor.Key] = s.cfg.Cursor.Initial
	}
	s.tracker = state.NewTracker(s.cfg.Name, s.cfg.Cursor.Monotonicity, loaded)
	s.log.Info("cursor state loaded",
		zap.String("cursor", loaded.Get(s.cfg.Cursor.Key)))

	paginator, err := fetch.NewPaginator(s.cfg.Pagination)
	if err != nil {
		return err
	}

	s.table = schema.NewTable(s.cfg.Table, s.cfg.PrimaryKey)
	if err := s.engine.sink.CreateTable(ctx, s.table); err != nil {
		return err
	}

	s.batcher = sink.NewBatcher(
		s.engine.sink,
		s.cfg.Name,
		s.cfg.Table,
		s.engine.cfg.Reliability.CheckpointEvery,
		func(ctx context.Context) error {
			return s.engine.store.Checkpoint(ctx, s.cfg.Name, s.tracker.State())
		},
	)

	extra := url.Values{}
	if s.cfg.Cursor.Param != "" {
		if v := loaded.Get(s.cfg.Cursor.Key); v != "" {
			extra.Set(s.cfg.Cursor.Param, v)
		}
	}

	s.phase(PhaseFetching)
	fetcher := s.engine.newFetcher(ctx, s.engine.cfg, s.cfg.Name)
	pages := fetcher.Pages(s.cfg.Endpoint, paginator, s.tracker.State(), extra)

	for {
		res, err := pages.Next(ctx)
		if err != nil {
			return err
		}
		if res == nil {
			break
		}

		s.res.Pages++
		if err := s.deliverPage(ctx, res.Page); err != nil {
			return err
		}

		// The page is delivered; record its resume position and make
		// it durable so a restart skips the pages already covered.
		paginator.Persist(s.tracker, res.Request, res.Page)
		s.phase(PhaseCheckpointing)
		if err := s.batcher.PageBreak(ctx); err != nil {
			return err
		}
		s.phase(PhaseFetching)
	}

	s.phase(PhaseCheckpointing)
	return s.batcher.Finish(ctx)
}

func (s *streamSync) deliverPage(ctx context.Context, page *fetch.Page) error {
	for _, raw := range page.Records {
		s.phase(PhaseNormalizing)
		rec, err := flatten.Flatten(raw)
		if err != nil {
			s.skip("record failed normalization", err)
			continue
		}
		s.table.Observe(rec)
		if _, err := s.table.Key(rec); err != nil {
			s.skip("record is missing primary key fields", err)
			continue
		}

		s.advanceCursor(rec)

		s.phase(PhaseDelivering)
		if err := s.batcher.Deliver(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// advanceCursor moves the field-tracked cursor for one record. A record
// with a missing or malformed cursor field is still delivered; only the
// cursor stays put.
func (s *streamSync) advanceCursor(rec flatten.FlatRecord) {
	field := s.cfg.Cursor.Field
	if field == "" {
		return
	}

	value, ok := cursorValue(rec[field])
	if !ok {
		s.log.Warn("cursor field missing from record",
			zap.String("field", field))
		return
	}

	if err := s.tracker.Advance(s.cfg.Cursor.Key, value); err != nil {
		s.log.Warn("cursor moved backwards, keeping previous position",
			zap.String("field", field),
			zap.String("value", value),
			zap.String("cursor", s.tracker.Get(s.cfg.Cursor.Key)))
	}
}

func (s *streamSync) skip(msg string, err error) {
	s.log.Warn(msg, zap.Error(err))
	metrics.RecordsSkipped.WithLabelValues(s.cfg.Name).Inc()
	s.res.Skipped++
}

func (s *streamSync) phase(p Phase) {
	s.res.Phase = p
	s.log.Debug("phase transition", zap.String("phase", string(p)))
}

// cursorValue renders a record field as a cursor string. JSON numbers
// arrive as float64; integral values keep their integer form so numeric
// cursor comparison works.
func cursorValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	default:
		return "", false
	}
}
