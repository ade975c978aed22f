// Package fetch implements the paginated fetcher: it drives repeated page
// requests against a remote source, applying a pluggable pagination
// strategy, per-page retry with capped exponential backoff, request rate
// limiting, and a loop guard against sources that ignore their pagination
// parameters.
package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/driftdata/drift/pkg/config"
	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/logger"
	"github.com/driftdata/drift/pkg/metrics"
	"github.com/driftdata/drift/pkg/state"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// errorBodyLimit bounds how much of an error response body is read into
// the error message.
const errorBodyLimit = 2048

// Fetcher pulls pages from one source endpoint on behalf of one stream.
type Fetcher struct {
	stream  string
	client  *http.Client
	limiter *rate.Limiter
	policy  *RetryPolicy
	logger  *zap.Logger
	headers map[string]string
}

// Option configures a Fetcher.
type Option func(f *Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithTimeout sets the per-request timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.client.Timeout = d }
}

// WithRateLimit limits page requests per second. Zero disables limiting.
func WithRateLimit(perSec int) Option {
	return func(f *Fetcher) {
		if perSec > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
		}
	}
}

// WithConnectTimeout bounds how long establishing a connection to the
// source may take, separate from the per-request timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d <= 0 {
			return
		}
		dialer := &net.Dialer{Timeout: d}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = dialer.DialContext
		f.client.Transport = transport
	}
}

// WithBearerToken authenticates requests with a static bearer token.
func WithBearerToken(token string) Option {
	return func(f *Fetcher) { f.headers["Authorization"] = "Bearer " + token }
}

// WithOAuth2 authenticates requests through the OAuth2 client-credentials
// flow; the client refreshes tokens as they expire. The fetcher's
// existing client, including its transport and timeouts, carries the
// authenticated requests.
func WithOAuth2(ctx context.Context, cc clientcredentials.Config) Option {
	return func(f *Fetcher) {
		base := f.client
		f.client = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
		f.client.Timeout = base.Timeout
	}
}

// WithHeader adds a static request header.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) { f.headers[key] = value }
}

// NewFetcher creates a fetcher for the named stream.
func NewFetcher(stream string, policy *RetryPolicy, opts ...Option) *Fetcher {
	f := &Fetcher{
		stream:  stream,
		client:  &http.Client{Timeout: 30 * time.Second},
		policy:  policy,
		logger:  logger.With(zap.String("stream", stream)),
		headers: make(map[string]string),
	}
	if f.policy == nil {
		f.policy = DefaultRetryPolicy()
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewFetcherFromConfig builds a fetcher for a stream from the invocation
// configuration, wiring timeouts, rate limiting, retry, and auth.
func NewFetcherFromConfig(ctx context.Context, cfg *config.SyncConfig, stream string) *Fetcher {
	opts := []Option{
		WithTimeout(cfg.Timeouts.Request),
		WithConnectTimeout(cfg.Timeouts.Connection),
		WithRateLimit(cfg.Reliability.RateLimitPerSec),
	}
	switch cfg.Auth.Type {
	case config.AuthBearer:
		opts = append(opts, WithBearerToken(cfg.Auth.Credentials["token"]))
	case config.AuthOAuth2:
		opts = append(opts, WithOAuth2(ctx, clientcredentials.Config{
			ClientID:     cfg.Auth.Credentials["client_id"],
			ClientSecret: cfg.Auth.Credentials["client_secret"],
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}))
	}
	return NewFetcher(stream, NewRetryPolicy(cfg.Reliability), opts...)
}

// PageResult couples a fetched page with the request that produced it,
// so the caller can persist the resume position after delivery.
type PageResult struct {
	Page    *Page
	Request PageRequest
}

// PageIterator walks pages one at a time. Each Next call issues exactly
// one page request; a page is never requested before the caller asks for
// it, so fetching and delivering strictly alternate.
type PageIterator struct {
	fetcher  *Fetcher
	endpoint string
	pg       Paginator
	extra    url.Values
	req      PageRequest
	pending  error
	done     bool
}

// Pages positions an iterator at the resume point in st. The iteration
// ends when the strategy reports its terminal condition, which is
// evaluated after every page including empty ones. Two consecutive
// requests with an identical pagination position end the fetch with a
// stalled error instead of looping forever.
func (f *Fetcher) Pages(endpoint string, pg Paginator, st state.SyncState, extra url.Values) *PageIterator {
	return &PageIterator{
		fetcher:  f,
		endpoint: endpoint,
		pg:       pg,
		extra:    extra,
		req:      pg.Start(st),
	}
}

// Next fetches and returns the next page, or (nil, nil) once the fetch
// is complete. The request carried in the result produced the page, so
// the caller can persist its resume position after delivery.
func (it *PageIterator) Next(ctx context.Context) (*PageResult, error) {
	if it.done {
		err := it.pending
		it.pending = nil
		return nil, err
	}

	start := time.Now()
	page, err := it.fetcher.fetchPage(ctx, it.endpoint, it.req, it.extra)
	if err != nil {
		it.done = true
		return nil, err
	}
	metrics.PagesFetched.WithLabelValues(it.fetcher.stream).Inc()
	metrics.FetchLatency.WithLabelValues(it.fetcher.stream).Observe(time.Since(start).Seconds())

	res := &PageResult{Page: page, Request: it.req}

	next, done := it.pg.Next(it.req, page)
	switch {
	case done:
		it.done = true
	case next.Position != "" && next.Position == it.req.Position:
		// The fetched page is still returned; the error surfaces on
		// the following call so its records are not lost.
		it.fetcher.logger.Error("pagination stalled on identical cursor",
			zap.String("position", next.Position))
		it.done = true
		it.pending = errors.Newf(errors.ErrorTypeFetchStalled,
			"source returned identical pagination cursor %q twice", next.Position)
	default:
		it.req = next
	}
	return res, nil
}

// RecordIterator flattens a page iterator into single records.
type RecordIterator struct {
	pages *PageIterator
	buf   []RawRecord
}

// FetchAll walks every record from the resume point in st, one page at
// a time.
func (f *Fetcher) FetchAll(endpoint string, pg Paginator, st state.SyncState, extra url.Values) *RecordIterator {
	return &RecordIterator{pages: f.Pages(endpoint, pg, st, extra)}
}

// Next returns the next record, or (nil, nil) once the fetch is
// complete. The next page is requested only after the previous page's
// records are consumed.
func (it *RecordIterator) Next(ctx context.Context) (RawRecord, error) {
	for len(it.buf) == 0 {
		res, err := it.pages.Next(ctx)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, nil
		}
		it.buf = res.Page.Records
	}
	rec := it.buf[0]
	it.buf = it.buf[1:]
	return rec, nil
}

// fetchPage performs one page request under the retry policy.
func (f *Fetcher) fetchPage(ctx context.Context, endpoint string, req PageRequest, extra url.Values) (*Page, error) {
	var page *Page

	err := f.policy.Execute(ctx, func() error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, errors.ErrorTypeFetchTransient, "rate limiter wait cancelled")
			}
		}

		p, err := f.doRequest(ctx, endpoint, req, extra)
		if err != nil {
			if errors.IsRetryable(err) {
				metrics.RetryAttempts.WithLabelValues(f.stream).Inc()
				f.logger.Warn("transient fetch failure",
					zap.String("position", req.Position),
					zap.Error(err))
			}
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (f *Fetcher) doRequest(ctx context.Context, endpoint string, req PageRequest, extra url.Values) (*Page, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFetchFatal, "invalid endpoint URL")
	}

	q := u.Query()
	for k, vs := range req.Params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFetchFatal, "failed to build page request")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range f.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFetchTransient, "page request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return decodePage(resp.Body)

	case resp.StatusCode == http.StatusTooManyRequests:
		e := errors.Newf(errors.ErrorTypeFetchTransient, "source rate limited the request (429)")
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			e = e.WithDetail(retryAfterDetail, d)
		}
		return nil, e

	case resp.StatusCode >= 500:
		return nil, errors.Newf(errors.ErrorTypeFetchTransient,
			"source returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))

	default:
		return nil, errors.Newf(errors.ErrorTypeFetchFatal,
			"source returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
}

// decodePage parses a page body. Accepted shapes are an envelope object
// {"data": [...], "paging": {...}} or a bare record array. Anything else
// is a schema violation and fails the fetch without retry.
func decodePage(r io.Reader) (*Page, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFetchTransient, "failed to read page body")
	}

	trimmed := trimLeftSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []RawRecord
		if err := gojson.Unmarshal(trimmed, &records); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFetchFatal, "malformed record array")
		}
		return &Page{Records: records}, nil
	}

	var env struct {
		Data   []RawRecord `json:"data"`
		Paging struct {
			Next       string `json:"next"`
			Total      int    `json:"total"`
			TotalPages int    `json:"total_pages"`
			MaxID      int64  `json:"max_id"`
		} `json:"paging"`
	}
	if err := gojson.Unmarshal(trimmed, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFetchFatal, "malformed page envelope")
	}

	return &Page{
		Records:    env.Data,
		NextToken:  env.Paging.Next,
		Total:      env.Paging.Total,
		TotalPages: env.Paging.TotalPages,
		MaxID:      env.Paging.MaxID,
	}, nil
}

func trimLeftSpace(b []byte) []byte {
	for len(b) > 0 {
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			b = b[1:]
		default:
			return b
		}
	}
	return b
}

// parseRetryAfter parses a Retry-After header given in seconds.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	if err != nil {
		return ""
	}
	return string(b)
}
