package fetch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/driftdata/drift/pkg/config"
	"github.com/driftdata/drift/pkg/errors"
)

// retryAfterDetail is the error detail key carrying an explicit
// Retry-After delay from a 429 response.
const retryAfterDetail = "retry_after"

// RetryPolicy defines per-page retry behavior with exponential backoff.
// It is stateless across pages; each page request consults it afresh.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64

	// sleep is swapped out by tests to observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy from the reliability configuration.
func NewRetryPolicy(rc config.ReliabilityConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  rc.RetryAttempts,
		InitialDelay: rc.RetryDelay,
		MaxDelay:     rc.MaxRetryDelay,
		Multiplier:   rc.RetryMultiplier,
		JitterFactor: rc.JitterFactor,
	}
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.25,
	}
}

// Execute runs fn until it succeeds, fails non-transiently, or the attempt
// budget is exhausted.
//
// Only transient errors are retried; any other error returns immediately
// without consuming further attempts. When a transient error carries an
// explicit Retry-After delay, that delay replaces the computed backoff.
// Exhaustion returns a fetch-exhausted error wrapping the last failure.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !errors.IsRetryable(err) {
			return err
		}

		lastErr = err

		if attempt == rp.MaxAttempts-1 {
			break
		}

		delay := rp.delay(attempt)
		if d, ok := retryAfterHint(err); ok {
			delay = d
		}

		if err := rp.wait(ctx, delay); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFetchExhausted, "retry cancelled")
		}
	}

	return errors.Wrap(lastErr, errors.ErrorTypeFetchExhausted,
		fmt.Sprintf("all %d attempts failed", rp.MaxAttempts))
}

// delay computes the backoff delay for a given attempt, with jitter.
func (rp *RetryPolicy) delay(attempt int) time.Duration {
	d := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if max := float64(rp.MaxDelay); rp.MaxDelay > 0 && d > max {
		d = max
	}

	if rp.JitterFactor > 0 {
		delta := d * rp.JitterFactor
		d = d - delta + rand.Float64()*2*delta
	}

	return time.Duration(d)
}

func (rp *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if rp.sleep != nil {
		return rp.sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfterHint extracts an explicit Retry-After delay from a transient
// error, if the response carried one.
func retryAfterHint(err error) (time.Duration, bool) {
	var e *errors.Error
	if !errors.As(err, &e) {
		return 0, false
	}
	v, ok := e.Detail(retryAfterDetail)
	if !ok {
		return 0, false
	}
	d, ok := v.(time.Duration)
	return d, ok
}
