package fetch

import (
	"net/url"
	"strconv"

	"github.com/driftdata/drift/pkg/config"
	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/state"
)

// RawRecord is a nested record as decoded from the source.
type RawRecord = map[string]interface{}

// Page is one bounded fetch result: its records plus the pagination
// metadata the strategy needs to decide whether and where to continue.
// End of pagination is an explicit terminal value here, never an error.
type Page struct {
	Records []RawRecord

	// NextToken is the opaque cursor for the following page (cursor
	// strategy); empty means no more pages.
	NextToken string
	// Total is the total record count at the source (offset strategy).
	Total int
	// TotalPages is the total page count (page-number strategy).
	TotalPages int
	// MaxID is the largest ID at the source (ID-range strategy).
	MaxID int64
}

// PageRequest describes one page fetch: the query parameters to send and
// an opaque position marker used by the stall guard.
type PageRequest struct {
	Params url.Values
	// Position identifies where in the sequence this request points.
	// Two consecutive requests with equal positions trip the loop guard.
	Position string
}

// Paginator is the pluggable pagination strategy of a stream.
//
// Start derives the first request from persisted state. Next derives the
// following request from the page just fetched; done reports the
// strategy-specific terminal condition, which is evaluated after every
// page, even an empty one. Persist writes the resume position into the
// stream's tracker after a page is delivered.
type Paginator interface {
	Start(st state.SyncState) PageRequest
	Next(prev PageRequest, page *Page) (next PageRequest, done bool)
	Persist(t *state.Tracker, prev PageRequest, page *Page)
}

// State keys for resumable pagination positions. Tokens are opaque, so
// they bypass the monotonic cursor policy.
const (
	pageTokenKey = "page_token"
	offsetKey    = "offset"
	pageNumKey   = "page"
	rangeFromKey = "range_from"
)

// NewPaginator builds the paginator selected by the stream configuration.
func NewPaginator(pc config.PaginationConfig) (Paginator, error) {
	switch pc.Strategy {
	case config.StrategyCursor:
		return &cursorPaginator{
			param:    orDefault(pc.CursorParam, "after"),
			limit:    orDefault(pc.LimitParam, "limit"),
			pageSize: pc.PageSize,
		}, nil
	case config.StrategyOffset:
		return &offsetPaginator{
			offsetParam: orDefault(pc.OffsetParam, "offset"),
			limitParam:  orDefault(pc.LimitParam, "limit"),
			pageSize:    pc.PageSize,
		}, nil
	case config.StrategyPage:
		return &pageNumberPaginator{
			pageParam: orDefault(pc.PageParam, "page"),
			limit:     orDefault(pc.LimitParam, "per_page"),
			pageSize:  pc.PageSize,
		}, nil
	case config.StrategyIDRange:
		return &idRangePaginator{
			startParam: orDefault(pc.StartParam, "start_id"),
			endParam:   orDefault(pc.EndParam, "end_id"),
			step:       pc.RangeStep,
		}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown pagination strategy %q", pc.Strategy)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// cursorPaginator follows opaque next-page tokens. Terminal condition:
// the response carries no next token.
type cursorPaginator struct {
	param    string
	limit    string
	pageSize int
}

func (p *cursorPaginator) Start(st state.SyncState) PageRequest {
	req := PageRequest{Params: url.Values{}}
	req.Params.Set(p.limit, strconv.Itoa(p.pageSize))
	if tok := st.Get(pageTokenKey); tok != "" {
		req.Params.Set(p.param, tok)
		req.Position = tok
	}
	return req
}

func (p *cursorPaginator) Next(prev PageRequest, page *Page) (PageRequest, bool) {
	if page.NextToken == "" {
		return PageRequest{}, true
	}
	req := PageRequest{Params: url.Values{}, Position: page.NextToken}
	req.Params.Set(p.limit, strconv.Itoa(p.pageSize))
	req.Params.Set(p.param, page.NextToken)
	return req, false
}

func (p *cursorPaginator) Persist(t *state.Tracker, _ PageRequest, page *Page) {
	if page.NextToken != "" {
		t.Set(pageTokenKey, page.NextToken)
	}
}

// offsetPaginator advances a numeric offset by the records received.
// Terminal condition: offset+count >= total, or a short/empty page when
// the source reports no total.
type offsetPaginator struct {
	offsetParam string
	limitParam  string
	pageSize    int
}

func (p *offsetPaginator) Start(st state.SyncState) PageRequest {
	offset := int64(0)
	if v := st.Get(offsetKey); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			offset = n
		}
	}
	return p.request(offset)
}

func (p *offsetPaginator) request(offset int64) PageRequest {
	req := PageRequest{Params: url.Values{}, Position: strconv.FormatInt(offset, 10)}
	req.Params.Set(p.offsetParam, strconv.FormatInt(offset, 10))
	req.Params.Set(p.limitParam, strconv.Itoa(p.pageSize))
	return req
}

func (p *offsetPaginator) Next(prev PageRequest, page *Page) (PageRequest, bool) {
	offset, _ := strconv.ParseInt(prev.Position, 10, 64)
	next := offset + int64(len(page.Records))

	if page.Total > 0 && next >= int64(page.Total) {
		return PageRequest{}, true
	}
	if len(page.Records) < p.pageSize {
		return PageRequest{}, true
	}
	return p.request(next), false
}

func (p *offsetPaginator) Persist(t *state.Tracker, prev PageRequest, page *Page) {
	offset, _ := strconv.ParseInt(prev.Position, 10, 64)
	t.Set(offsetKey, strconv.FormatInt(offset+int64(len(page.Records)), 10))
}

// pageNumberPaginator advances a 1-based page number. Terminal condition:
// page == total_pages, or a short/empty page when no total is reported.
type pageNumberPaginator struct {
	pageParam string
	limit     string
	pageSize  int
}

func (p *pageNumberPaginator) Start(st state.SyncState) PageRequest {
	n := int64(1)
	if v := st.Get(pageNumKey); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			n = parsed
		}
	}
	return p.request(n)
}

func (p *pageNumberPaginator) request(n int64) PageRequest {
	req := PageRequest{Params: url.Values{}, Position: strconv.FormatInt(n, 10)}
	req.Params.Set(p.pageParam, strconv.FormatInt(n, 10))
	req.Params.Set(p.limit, strconv.Itoa(p.pageSize))
	return req
}

func (p *pageNumberPaginator) Next(prev PageRequest, page *Page) (PageRequest, bool) {
	n, _ := strconv.ParseInt(prev.Position, 10, 64)

	if page.TotalPages > 0 && n >= int64(page.TotalPages) {
		return PageRequest{}, true
	}
	if len(page.Records) == 0 || len(page.Records) < p.pageSize {
		return PageRequest{}, true
	}
	return p.request(n + 1), false
}

func (p *pageNumberPaginator) Persist(t *state.Tracker, prev PageRequest, page *Page) {
	n, _ := strconv.ParseInt(prev.Position, 10, 64)
	t.Set(pageNumKey, strconv.FormatInt(n+1, 10))
}

// idRangePaginator walks fixed-width ID windows. Terminal condition: the
// next window starts past the source's reported max ID, or, when the
// source reports none, an empty window.
type idRangePaginator struct {
	startParam string
	endParam   string
	step       int64
}

func (p *idRangePaginator) Start(st state.SyncState) PageRequest {
	from := int64(0)
	if v := st.Get(rangeFromKey); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			from = n
		}
	}
	return p.request(from)
}

func (p *idRangePaginator) request(from int64) PageRequest {
	req := PageRequest{Params: url.Values{}, Position: strconv.FormatInt(from, 10)}
	req.Params.Set(p.startParam, strconv.FormatInt(from, 10))
	req.Params.Set(p.endParam, strconv.FormatInt(from+p.step, 10))
	return req
}

func (p *idRangePaginator) Next(prev PageRequest, page *Page) (PageRequest, bool) {
	from, _ := strconv.ParseInt(prev.Position, 10, 64)
	next := from + p.step

	if page.MaxID > 0 {
		if next > page.MaxID {
			return PageRequest{}, true
		}
	} else if len(page.Records) == 0 {
		return PageRequest{}, true
	}
	return p.request(next), false
}

func (p *idRangePaginator) Persist(t *state.Tracker, prev PageRequest, page *Page) {
	from, _ := strconv.ParseInt(prev.Position, 10, 64)
	t.Set(rangeFromKey, strconv.FormatInt(from+p.step, 10))
}
