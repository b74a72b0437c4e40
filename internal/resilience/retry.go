package resilience

import "time"

// RetryPolicy is the fixed backoff schedule from spec §4.8: retry_count
// increments by one per retryable failure, with delays 1s, 2s, 4s, then the
// task escalates to terminal `failed` once max_retries is exhausted.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// DefaultRetryPolicy matches the spec's documented defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// DelayFor returns the backoff delay before the given 1-based retry
// attempt. Attempts beyond the configured schedule reuse the last delay.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt <= 0 || len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// Exhausted reports whether retry_count has reached max_retries (I6).
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}
