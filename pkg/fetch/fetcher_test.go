package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdata/drift/pkg/config"
	"github.com/driftdata/drift/pkg/errors"
	"github.com/driftdata/drift/pkg/state"
)

func noSleepPolicy(attempts int) *RetryPolicy {
	rp := DefaultRetryPolicy()
	rp.MaxAttempts = attempts
	rp.sleep = func(context.Context, time.Duration) error { return nil }
	return rp
}

func cursorPg(t *testing.T, pageSize int) Paginator {
	t.Helper()
	pg, err := NewPaginator(config.PaginationConfig{
		Strategy: config.StrategyCursor,
		PageSize: pageSize,
	})
	require.NoError(t, err)
	return pg
}

func drain(t *testing.T, it *PageIterator) ([]*PageResult, error) {
	t.Helper()
	var results []*PageResult
	for {
		res, err := it.Next(context.Background())
		if err != nil {
			return results, err
		}
		if res == nil {
			return results, nil
		}
		results = append(results, res)
	}
}

func TestDecodePage(t *testing.T) {
	t.Run("bare array", func(t *testing.T) {
		page, err := decodePage(strings.NewReader(`[{"id": 1}, {"id": 2}]`))
		require.NoError(t, err)
		assert.Len(t, page.Records, 2)
		assert.Empty(t, page.NextToken)
	})

	t.Run("envelope with paging", func(t *testing.T) {
		page, err := decodePage(strings.NewReader(
			`{"data": [{"id": 1}], "paging": {"next": "tok", "total": 9, "total_pages": 3, "max_id": 40}}`))
		require.NoError(t, err)
		assert.Len(t, page.Records, 1)
		assert.Equal(t, "tok", page.NextToken)
		assert.Equal(t, 9, page.Total)
		assert.Equal(t, 3, page.TotalPages)
		assert.Equal(t, int64(40), page.MaxID)
	})

	t.Run("empty data is a valid page", func(t *testing.T) {
		page, err := decodePage(strings.NewReader(`{"data": []}`))
		require.NoError(t, err)
		assert.Empty(t, page.Records)
	})

	t.Run("malformed body is fatal", func(t *testing.T) {
		_, err := decodePage(strings.NewReader(`{"data": "not an array"`))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeFetchFatal))
	})
}

func TestFetcher_PagesFollowsTokens(t *testing.T) {
	bodies := map[string]string{
		"":   `{"data": [{"id": 1}, {"id": 2}], "paging": {"next": "t2"}}`,
		"t2": `{"data": [{"id": 3}], "paging": {"next": "t3"}}`,
		"t3": `{"data": []}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, bodies[r.URL.Query().Get("after")])
	}))
	defer srv.Close()

	f := NewFetcher("orders", noSleepPolicy(3))
	results, err := drain(t, f.Pages(srv.URL, cursorPg(t, 2), state.SyncState{}, nil))

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Len(t, results[0].Page.Records, 2)
	assert.Len(t, results[1].Page.Records, 1)
	assert.Empty(t, results[2].Page.Records)
}

func TestFetcher_FetchesOnlyOnDemand(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		fmt.Fprintf(w, `{"data": [{"id": %d}], "paging": {"next": "t%d"}}`, n, n)
	}))
	defer srv.Close()

	f := NewFetcher("orders", noSleepPolicy(3))
	it := f.Pages(srv.URL, cursorPg(t, 1), state.SyncState{}, nil)

	res, err := it.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int32(1), requests.Load())

	// With the first page in hand but unconsumed, no further request
	// may reach the source.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), requests.Load(),
		"the next page must not be fetched before it is asked for")

	_, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
}

func TestFetcher_LoopGuard(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `{"data": [{"id": 1}], "paging": {"next": "same-token"}}`)
	}))
	defer srv.Close()

	f := NewFetcher("orders", noSleepPolicy(3))
	_, err := drain(t, f.Pages(srv.URL, cursorPg(t, 10), state.SyncState{}, nil))

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFetchStalled))
	assert.Equal(t, 2, requests, "the stall must be detected within two fetches of the repeated cursor")
}

func TestFetcher_RetriesAfter429(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 3 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[{"id": 1}]`)
	}))
	defer srv.Close()

	var slept []time.Duration
	rp := DefaultRetryPolicy()
	rp.MaxAttempts = 5
	rp.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	f := NewFetcher("orders", rp)
	results, err := drain(t, f.Pages(srv.URL, cursorPg(t, 10), state.SyncState{}, nil))

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, requests)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, slept,
		"Retry-After must override the computed backoff")
}

func TestFetcher_ServerErrorsExhaustRetries(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher("orders", noSleepPolicy(3))
	_, err := drain(t, f.Pages(srv.URL, cursorPg(t, 10), state.SyncState{}, nil))

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFetchExhausted))
	assert.Equal(t, 3, requests)
}

func TestFetcher_ClientErrorIsFatal(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "no such collection", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher("orders", noSleepPolicy(3))
	_, err := drain(t, f.Pages(srv.URL, cursorPg(t, 10), state.SyncState{}, nil))

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFetchFatal))
	assert.Equal(t, 1, requests, "a 4xx must not be retried")
}

func TestFetcher_SendsAuthAndFilterParams(t *testing.T) {
	var gotAuth, gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSince = r.URL.Query().Get("updated_since")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	f := NewFetcher("orders", noSleepPolicy(3), WithBearerToken("s3cret"))
	extra := map[string][]string{"updated_since": {"2024-01-01T00:00:00Z"}}
	_, err := drain(t, f.Pages(srv.URL, cursorPg(t, 10), state.SyncState{}, extra))

	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Equal(t, "2024-01-01T00:00:00Z", gotSince)
}

func TestFetcher_FetchAllFlattensPages(t *testing.T) {
	bodies := map[string]string{
		"":   `{"data": [{"id": 1}, {"id": 2}], "paging": {"next": "t2"}}`,
		"t2": `{"data": [{"id": 3}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, bodies[r.URL.Query().Get("after")])
	}))
	defer srv.Close()

	f := NewFetcher("orders", noSleepPolicy(3))
	it := f.FetchAll(srv.URL, cursorPg(t, 2), state.SyncState{}, nil)

	var ids []float64
	for {
		rec, err := it.Next(context.Background())
		require.NoError(t, err)
		if rec == nil {
			break
		}
		ids = append(ids, rec["id"].(float64))
	}
	assert.Equal(t, []float64{1, 2, 3}, ids)
}

func TestWithConnectTimeout(t *testing.T) {
	f := NewFetcher("orders", noSleepPolicy(1), WithConnectTimeout(5*time.Second))
	transport, ok := f.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, transport.DialContext)

	f = NewFetcher("orders", noSleepPolicy(1))
	assert.Nil(t, f.client.Transport, "without a connect timeout the default transport is kept")
}

func TestParseRetryAfter(t *testing.T) {
	d, ok := parseRetryAfter("7")
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	_, ok = parseRetryAfter("")
	assert.False(t, ok)

	_, ok = parseRetryAfter("not-a-delay")
	assert.False(t, ok)
}
