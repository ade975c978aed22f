// Package state implements the cursor store: the resumable position of a
// sync stream, persisted across invocations.
//
// A SyncState is an opaque mapping from cursor key to cursor value, one per
// stream. Values tracked under a monotonic policy may never move backward
// once persisted, so a resumed sync never re-emits state older than what
// was already committed downstream. Opaque values (page tokens) carry no
// ordering and use the "none" policy.
package state

import (
	"strconv"
	"strings"
	"time"

	"github.com/driftdata/drift/pkg/config"
	"github.com/driftdata/drift/pkg/errors"
)

// SyncState maps cursor keys to cursor values for one stream.
type SyncState map[string]string

// Clone returns an independent copy of the state.
func (s SyncState) Clone() SyncState {
	c := make(SyncState, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Get returns the value for key, or the empty string if absent.
func (s SyncState) Get(key string) string {
	return s[key]
}

// Tracker holds a stream's in-memory cursor state and enforces the
// stream's monotonicity policy on advances.
type Tracker struct {
	stream string
	policy string
	state  SyncState
}

// NewTracker wraps the loaded state of a stream. The loaded state is not
// copied; the tracker owns it for the duration of the sync.
func NewTracker(stream, policy string, loaded SyncState) *Tracker {
	if loaded == nil {
		loaded = make(SyncState)
	}
	if policy == "" {
		policy = config.MonotonicNonDecreasing
	}
	return &Tracker{stream: stream, policy: policy, state: loaded}
}

// Stream returns the stream name owning this tracker.
func (t *Tracker) Stream() string {
	return t.stream
}

// Get returns the current cursor value for key.
func (t *Tracker) Get(key string) string {
	return t.state[key]
}

// Advance moves the cursor for key to value, enforcing the tracker's
// monotonicity policy. Moving a monotonic cursor backward (or, under the
// strict policy, failing to move it forward) returns an invalid-cursor
// error and leaves the state unchanged.
func (t *Tracker) Advance(key, value string) error {
	if t.policy != config.MonotonicNone {
		if prev, ok := t.state[key]; ok && prev != "" {
			cmp := Compare(value, prev)
			if cmp < 0 {
				return errors.Newf(errors.ErrorTypeInvalidCursor,
					"cursor %q on stream %q would move backward from %q to %q",
					key, t.stream, prev, value)
			}
			if cmp == 0 && t.policy == config.MonotonicStrict {
				return errors.Newf(errors.ErrorTypeInvalidCursor,
					"cursor %q on stream %q requires strictly increasing values, got %q twice",
					key, t.stream, value)
			}
		}
	}
	t.state[key] = value
	return nil
}

// Set stores an opaque value under key without a monotonicity check.
// Pagination tokens, which carry no ordering, go through here.
func (t *Tracker) Set(key, value string) {
	t.state[key] = value
}

// State returns a copy of the current state, safe to checkpoint while the
// tracker keeps mutating.
func (t *Tracker) State() SyncState {
	return t.state.Clone()
}

// Compare orders two cursor values. Integer pairs compare numerically,
// RFC 3339 timestamp pairs chronologically, everything else
// lexicographically. Returns -1, 0 or 1.
func Compare(a, b string) int {
	if ai, aerr := strconv.ParseInt(a, 10, 64); aerr == nil {
		if bi, berr := strconv.ParseInt(b, 10, 64); berr == nil {
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			default:
				return 0
			}
		}
	}

	if at, aerr := time.Parse(time.RFC3339, a); aerr == nil {
		if bt, berr := time.Parse(time.RFC3339, b); berr == nil {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}

	return strings.Compare(a, b)
}
