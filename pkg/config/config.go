// Package config provides the unified configuration system for Drift.
// It defines a single SyncConfig structure describing one sync invocation:
// the streams to pull, how to page through them, how to retry transient
// failures, and where rows and cursor state are written.
//
// Configuration is typed and validated once at startup. Validate reports
// the first missing or malformed field by name, before any network call.
package config

import (
	"time"

	"github.com/driftdata/drift/pkg/errors"
)

// Pagination strategy names accepted by StreamConfig.Pagination.Strategy.
const (
	StrategyCursor  = "cursor"
	StrategyOffset  = "offset"
	StrategyPage    = "page"
	StrategyIDRange = "id_range"
)

// Cursor monotonicity policies.
const (
	MonotonicStrict        = "strict"
	MonotonicNonDecreasing = "non_decreasing"
	MonotonicNone          = "none"
)

// Auth types accepted by AuthConfig.Type.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthOAuth2 = "oauth2"
)

// SyncConfig is the single configuration structure for a sync invocation.
type SyncConfig struct {
	// Name identifies the sync invocation
	Name string `json:"name"`

	// Streams lists the independent sync streams, each with its own
	// cursor namespace, processed sequentially
	Streams []StreamConfig `json:"streams"`

	// Sink selects the destination ("memory", "csv", "jsonl", "postgres")
	Sink SinkConfig `json:"sink"`

	// State selects the cursor store ("memory", "file", "sqlite", "postgres")
	State StateConfig `json:"state"`

	// Performance settings control batching and buffering
	Performance PerformanceConfig `json:"performance"`

	// Timeouts define network timeout durations
	Timeouts TimeoutConfig `json:"timeouts"`

	// Reliability settings for retry, rate limiting and checkpointing
	Reliability ReliabilityConfig `json:"reliability"`

	// Auth configures source authentication
	Auth AuthConfig `json:"auth"`

	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `json:"log_level"`
}

// StreamConfig describes one sync stream: an endpoint, its pagination
// mechanism, its cursor, and its destination table.
type StreamConfig struct {
	// Name is the stream identifier; it namespaces the cursor state
	Name string `json:"name"`
	// Endpoint is the URL the fetcher pages through
	Endpoint string `json:"endpoint"`
	// Table is the destination table name
	Table string `json:"table"`
	// PrimaryKey lists the columns forming the upsert key
	PrimaryKey []string `json:"primary_key"`
	// Pagination selects and tunes the pagination strategy
	Pagination PaginationConfig `json:"pagination"`
	// Cursor configures the incremental cursor for this stream
	Cursor CursorConfig `json:"cursor"`
}

// PaginationConfig tunes the per-stream pagination strategy.
type PaginationConfig struct {
	// Strategy is one of cursor, offset, page, id_range
	Strategy string `json:"strategy"`
	// PageSize is the per-page record limit sent to the source
	PageSize int `json:"page_size"`
	// CursorParam names the query parameter carrying the page token
	CursorParam string `json:"cursor_param"`
	// OffsetParam and LimitParam name the offset strategy parameters
	OffsetParam string `json:"offset_param"`
	LimitParam  string `json:"limit_param"`
	// PageParam names the page-number parameter
	PageParam string `json:"page_param"`
	// StartParam and EndParam name the ID-range parameters
	StartParam string `json:"start_param"`
	EndParam   string `json:"end_param"`
	// RangeStep is the ID-range window width per page
	RangeStep int64 `json:"range_step"`
}

// CursorConfig configures the resumable cursor of a stream.
type CursorConfig struct {
	// Key is the state key the cursor is persisted under
	Key string `json:"key"`
	// Field names the record field tracked by the cursor
	// (a timestamp or ID column); empty disables field tracking
	Field string `json:"field"`
	// Param, when set, sends the cursor value as a request parameter
	// so the source filters to newer records
	Param string `json:"param"`
	// Monotonicity is one of strict, non_decreasing, none
	Monotonicity string `json:"monotonicity"`
	// Initial seeds the cursor when no prior state exists
	Initial string `json:"initial"`
}

// SinkConfig selects and configures the destination sink.
type SinkConfig struct {
	// Type is one of memory, csv, jsonl, postgres
	Type string `json:"type"`
	// Path is the output path for file-based sinks
	Path string `json:"path"`
	// DSN is the connection string for database sinks
	DSN string `json:"dsn"`
}

// StateConfig selects and configures the cursor store.
type StateConfig struct {
	// Type is one of memory, file, sqlite, postgres
	Type string `json:"type"`
	// Path is the store location for file and sqlite stores
	Path string `json:"path"`
	// DSN is the connection string for the postgres store
	DSN string `json:"dsn"`
}

// PerformanceConfig contains batching settings.
type PerformanceConfig struct {
	// BatchSize caps how many statements a database sink queues
	// before sending them as one batch
	BatchSize int `json:"batch_size"`
	// BufferSize is the write buffer, in bytes, for file sinks
	BufferSize int `json:"buffer_size"`
}

// TimeoutConfig contains network timeout settings.
type TimeoutConfig struct {
	// Request timeout for one page fetch
	Request time.Duration `json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `json:"connection"`
}

// ReliabilityConfig contains retry, rate limiting and checkpoint settings.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum attempts per page request
	RetryAttempts int `json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `json:"retry_multiplier"`
	// MaxRetryDelay caps the retry delay
	MaxRetryDelay time.Duration `json:"max_retry_delay"`
	// JitterFactor randomizes the delay by +/- the given fraction
	JitterFactor float64 `json:"jitter_factor"`
	// RateLimitPerSec limits page requests per second (0 = unlimited)
	RateLimitPerSec int `json:"rate_limit_per_sec"`
	// CheckpointEvery checkpoints after this many delivered records;
	// a page boundary always checkpoints regardless
	CheckpointEvery int `json:"checkpoint_every"`
}

// AuthConfig configures source authentication. Credential values are
// secrets and must never be logged.
type AuthConfig struct {
	// Type is one of none, bearer, oauth2
	Type string `json:"type"`
	// Credentials stores secrets by well-known key:
	// bearer: "token"; oauth2: "client_id", "client_secret"
	Credentials map[string]string `json:"credentials"`
	// TokenURL is the OAuth2 token endpoint
	TokenURL string `json:"token_url"`
	// Scopes lists OAuth2 scopes
	Scopes []string `json:"scopes"`
}

// NewSyncConfig creates a SyncConfig with production defaults. Streams
// must be added by the caller before Validate.
func NewSyncConfig(name string) *SyncConfig {
	return &SyncConfig{
		Name: name,
		Sink: SinkConfig{Type: "memory"},
		State: StateConfig{
			Type: "memory",
		},
		Performance: PerformanceConfig{
			BatchSize:  500,
			BufferSize: 2048,
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			JitterFactor:    0.25,
			RateLimitPerSec: 0,
			CheckpointEvery: 500,
		},
		Auth: AuthConfig{
			Type:        AuthNone,
			Credentials: make(map[string]string),
		},
		LogLevel: "info",
	}
}

// ApplyDefaults fills zero-valued tunables with the defaults from
// NewSyncConfig without touching fields the caller set explicitly.
func (c *SyncConfig) ApplyDefaults() {
	def := NewSyncConfig(c.Name)
	if c.Performance.BatchSize <= 0 {
		c.Performance.BatchSize = def.Performance.BatchSize
	}
	if c.Performance.BufferSize <= 0 {
		c.Performance.BufferSize = def.Performance.BufferSize
	}
	if c.Timeouts.Request <= 0 {
		c.Timeouts.Request = def.Timeouts.Request
	}
	if c.Timeouts.Connection <= 0 {
		c.Timeouts.Connection = def.Timeouts.Connection
	}
	if c.Reliability.RetryAttempts <= 0 {
		c.Reliability.RetryAttempts = def.Reliability.RetryAttempts
	}
	if c.Reliability.RetryDelay <= 0 {
		c.Reliability.RetryDelay = def.Reliability.RetryDelay
	}
	if c.Reliability.RetryMultiplier <= 0 {
		c.Reliability.RetryMultiplier = def.Reliability.RetryMultiplier
	}
	if c.Reliability.MaxRetryDelay <= 0 {
		c.Reliability.MaxRetryDelay = def.Reliability.MaxRetryDelay
	}
	if c.Reliability.CheckpointEvery <= 0 {
		c.Reliability.CheckpointEvery = def.Reliability.CheckpointEvery
	}
	if c.Auth.Type == "" {
		c.Auth.Type = AuthNone
	}
	if c.Sink.Type == "" {
		c.Sink.Type = "memory"
	}
	if c.State.Type == "" {
		c.State.Type = "memory"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Pagination.PageSize <= 0 {
			s.Pagination.PageSize = 100
		}
		if s.Cursor.Key == "" {
			s.Cursor.Key = "cursor"
		}
		if s.Cursor.Monotonicity == "" {
			s.Cursor.Monotonicity = MonotonicNonDecreasing
		}
	}
}

// Validate checks the configuration for correctness. It returns a config
// error naming the first missing or malformed field.
func (c *SyncConfig) Validate() error {
	if c.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "name is required")
	}
	if len(c.Streams) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one stream is required")
	}

	seen := make(map[string]bool, len(c.Streams))
	for i := range c.Streams {
		s := &c.Streams[i]
		if err := s.validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate stream name %q", s.Name)
		}
		seen[s.Name] = true
	}

	switch c.Auth.Type {
	case AuthNone:
	case AuthBearer:
		if c.Auth.Credentials["token"] == "" {
			return errors.New(errors.ErrorTypeConfig, "auth.credentials.token is required for bearer auth")
		}
	case AuthOAuth2:
		if c.Auth.Credentials["client_id"] == "" {
			return errors.New(errors.ErrorTypeConfig, "auth.credentials.client_id is required for oauth2 auth")
		}
		if c.Auth.Credentials["client_secret"] == "" {
			return errors.New(errors.ErrorTypeConfig, "auth.credentials.client_secret is required for oauth2 auth")
		}
		if c.Auth.TokenURL == "" {
			return errors.New(errors.ErrorTypeConfig, "auth.token_url is required for oauth2 auth")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown auth type %q", c.Auth.Type)
	}

	switch c.Sink.Type {
	case "memory":
	case "csv", "jsonl":
		if c.Sink.Path == "" {
			return errors.Newf(errors.ErrorTypeConfig, "sink.path is required for %s sink", c.Sink.Type)
		}
	case "postgres":
		if c.Sink.DSN == "" {
			return errors.New(errors.ErrorTypeConfig, "sink.dsn is required for postgres sink")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown sink type %q", c.Sink.Type)
	}

	switch c.State.Type {
	case "memory":
	case "file", "sqlite":
		if c.State.Path == "" {
			return errors.Newf(errors.ErrorTypeConfig, "state.path is required for %s state store", c.State.Type)
		}
	case "postgres":
		if c.State.DSN == "" {
			return errors.New(errors.ErrorTypeConfig, "state.dsn is required for postgres state store")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown state store type %q", c.State.Type)
	}

	if c.Reliability.JitterFactor < 0 || c.Reliability.JitterFactor > 1 {
		return errors.New(errors.ErrorTypeConfig, "reliability.jitter_factor must be between 0 and 1")
	}
	if c.Reliability.RateLimitPerSec < 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.rate_limit_per_sec cannot be negative")
	}

	return nil
}

func (s *StreamConfig) validate() error {
	if s.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "stream.name is required")
	}
	if s.Endpoint == "" {
		return errors.Newf(errors.ErrorTypeConfig, "stream %q: endpoint is required", s.Name)
	}
	if s.Table == "" {
		return errors.Newf(errors.ErrorTypeConfig, "stream %q: table is required", s.Name)
	}
	if len(s.PrimaryKey) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "stream %q: primary_key is required", s.Name)
	}

	switch s.Pagination.Strategy {
	case StrategyCursor, StrategyOffset, StrategyPage:
	case StrategyIDRange:
		if s.Pagination.RangeStep <= 0 {
			return errors.Newf(errors.ErrorTypeConfig, "stream %q: pagination.range_step must be positive for id_range", s.Name)
		}
	case "":
		return errors.Newf(errors.ErrorTypeConfig, "stream %q: pagination.strategy is required", s.Name)
	default:
		return errors.Newf(errors.ErrorTypeConfig, "stream %q: unknown pagination strategy %q", s.Name, s.Pagination.Strategy)
	}

	switch s.Cursor.Monotonicity {
	case MonotonicStrict, MonotonicNonDecreasing, MonotonicNone, "":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "stream %q: unknown monotonicity %q", s.Name, s.Cursor.Monotonicity)
	}

	return nil
}
