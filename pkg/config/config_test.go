package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdata/drift/pkg/errors"
)

func validConfig() *SyncConfig {
	cfg := NewSyncConfig("nightly")
	cfg.Streams = []StreamConfig{{
		Name:       "orders",
		Endpoint:   "https://api.example.com/orders",
		Table:      "orders",
		PrimaryKey: []string{"id"},
		Pagination: PaginationConfig{Strategy: StrategyOffset},
	}}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_ReportsFirstMissingField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SyncConfig)
		want   string
	}{
		{"missing name", func(c *SyncConfig) { c.Name = "" }, "name is required"},
		{"no streams", func(c *SyncConfig) { c.Streams = nil }, "at least one stream"},
		{"missing endpoint", func(c *SyncConfig) { c.Streams[0].Endpoint = "" }, "endpoint is required"},
		{"missing table", func(c *SyncConfig) { c.Streams[0].Table = "" }, "table is required"},
		{"missing primary key", func(c *SyncConfig) { c.Streams[0].PrimaryKey = nil }, "primary_key is required"},
		{"missing strategy", func(c *SyncConfig) { c.Streams[0].Pagination.Strategy = "" }, "pagination.strategy is required"},
		{"unknown strategy", func(c *SyncConfig) { c.Streams[0].Pagination.Strategy = "zigzag" }, "unknown pagination strategy"},
		{"id_range without step", func(c *SyncConfig) {
			c.Streams[0].Pagination.Strategy = StrategyIDRange
			c.Streams[0].Pagination.RangeStep = 0
		}, "range_step must be positive"},
		{"unknown monotonicity", func(c *SyncConfig) { c.Streams[0].Cursor.Monotonicity = "wavy" }, "unknown monotonicity"},
		{"duplicate stream", func(c *SyncConfig) { c.Streams = append(c.Streams, c.Streams[0]) }, "duplicate stream name"},
		{"bearer without token", func(c *SyncConfig) { c.Auth.Type = AuthBearer }, "credentials.token is required"},
		{"oauth2 without client", func(c *SyncConfig) { c.Auth.Type = AuthOAuth2 }, "client_id is required"},
		{"csv sink without path", func(c *SyncConfig) { c.Sink = SinkConfig{Type: "csv"} }, "sink.path is required"},
		{"postgres store without dsn", func(c *SyncConfig) { c.State = StateConfig{Type: "postgres"} }, "state.dsn is required"},
		{"jitter out of range", func(c *SyncConfig) { c.Reliability.JitterFactor = 1.5 }, "jitter_factor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &SyncConfig{
		Name: "defaults",
		Streams: []StreamConfig{{
			Name:       "orders",
			Endpoint:   "https://api.example.com/orders",
			Table:      "orders",
			PrimaryKey: []string{"id"},
			Pagination: PaginationConfig{Strategy: StrategyCursor},
		}},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, 500, cfg.Performance.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Request)
	assert.Equal(t, 3, cfg.Reliability.RetryAttempts)
	assert.Equal(t, 500, cfg.Reliability.CheckpointEvery)
	assert.Equal(t, "memory", cfg.Sink.Type)
	assert.Equal(t, AuthNone, cfg.Auth.Type)
	assert.Equal(t, 100, cfg.Streams[0].Pagination.PageSize)
	assert.Equal(t, "cursor", cfg.Streams[0].Cursor.Key)
	assert.Equal(t, MonotonicNonDecreasing, cfg.Streams[0].Cursor.Monotonicity)

	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := validConfig()
	cfg.Performance.BatchSize = 50
	cfg.Streams[0].Cursor.Monotonicity = MonotonicStrict
	cfg.ApplyDefaults()

	assert.Equal(t, 50, cfg.Performance.BatchSize)
	assert.Equal(t, MonotonicStrict, cfg.Streams[0].Cursor.Monotonicity)
}

func TestLoad(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sync.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"name": "nightly",
			"streams": [{
				"name": "orders",
				"endpoint": "https://api.example.com/orders",
				"table": "orders",
				"primary_key": ["id"],
				"pagination": {"strategy": "cursor", "page_size": 25},
				"cursor": {"key": "updated_at", "field": "updated_at"}
			}]
		}`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "nightly", cfg.Name)
		assert.Equal(t, 25, cfg.Streams[0].Pagination.PageSize)
		assert.Equal(t, "updated_at", cfg.Streams[0].Cursor.Key)
		assert.Equal(t, 500, cfg.Performance.BatchSize, "defaults must be applied")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"name": `), 0o644))

		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})

	t.Run("invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"name": "x", "streams": []}`), 0o644))

		_, err := Load(path)
		require.Error(t, err)
		assert.ErrorContains(t, err, "at least one stream")
	})
}
