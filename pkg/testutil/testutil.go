// Package testutil provides shared helpers for package tests: contexts
// with deadlines, test loggers, and a canned paginated API server.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/driftdata/drift/pkg/config"
)

// Context returns a context that expires with the test.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	return ctx
}

// Logger returns a zap logger that writes through t.Log.
func Logger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

// SyncConfig builds a validated single-purpose invocation config with
// the given streams and memory sink and store.
func SyncConfig(t *testing.T, streams ...config.StreamConfig) *config.SyncConfig {
	t.Helper()
	cfg := config.NewSyncConfig("test-sync")
	cfg.Streams = streams
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

// Envelope is the response document served by PagedServer.
type Envelope struct {
	Data   []map[string]interface{} `json:"data"`
	Paging *Paging                  `json:"paging,omitempty"`
}

// Paging is the pagination block of an Envelope.
type Paging struct {
	Next       string `json:"next,omitempty"`
	Total      int    `json:"total,omitempty"`
	TotalPages int    `json:"total_pages,omitempty"`
	MaxID      int64  `json:"max_id,omitempty"`
}

// PagedServer serves a fixed record set through offset pagination,
// honoring the offset and limit query parameters. Requests counts the
// pages served.
type PagedServer struct {
	*httptest.Server
	Records  []map[string]interface{}
	Requests int
}

// NewPagedServer starts a server over records; it is closed with the
// test.
func NewPagedServer(t *testing.T, records []map[string]interface{}) *PagedServer {
	t.Helper()
	ps := &PagedServer{Records: records}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.Requests++
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = len(ps.Records)
		}

		end := offset + limit
		if offset > len(ps.Records) {
			offset = len(ps.Records)
		}
		if end > len(ps.Records) {
			end = len(ps.Records)
		}

		WriteJSON(t, w, Envelope{
			Data:   ps.Records[offset:end],
			Paging: &Paging{Total: len(ps.Records)},
		})
	}))
	t.Cleanup(ps.Server.Close)
	return ps
}

// WriteJSON encodes v to w, failing the test on encode errors.
func WriteJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := gojson.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encoding response: %v", err)
	}
}

// Record builds a flat record literal.
func Record(pairs ...interface{}) map[string]interface{} {
	rec := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		rec[pairs[i].(string)] = pairs[i+1]
	}
	return rec
}
