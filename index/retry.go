package index

import (
	"context"
	"errors"
	"time"

	"github.com/gatherkit/gather-go/core"
)

// RetryPolicy bounds how retrieval failures are retried before being
// surfaced to the user.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy is tuned for an embedded backend with an optional
// remote embedder behind it.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:  3,
	BaseDelay: 200 * time.Millisecond,
	MaxDelay:  5 * time.Second,
}

// Delay returns the backoff before the given retry attempt (1-based),
// doubling per attempt with 10% jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseDelay
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	jitterRange := delay / 10
	if jitterRange > 0 {
		jitter := time.Duration(time.Now().UnixNano() % int64(jitterRange))
		delay += jitter - jitterRange/2
	}
	return delay
}

// Retry runs fn, retrying only core.ErrRetrievalUnavailable failures with
// backoff until the attempt budget runs out or the context is cancelled.
// Any other error aborts immediately.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Delay(attempt)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, core.ErrRetrievalUnavailable) {
			return lastErr
		}
	}
	return lastErr
}
