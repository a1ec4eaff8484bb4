package dispatch

import "time"

// RetryPolicy makes the retry decision a first-class, testable value
// instead of implicit loop behavior. The default is deliberate: no
// auto-retry. Silently re-running a resource-exhausting process risks
// cascading failures across the whole pool; a Failed task is re-attempted
// by the next invocation, since no valid artifact exists for it.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt; 1 means no retries.
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is "no auto-retry".
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 1}

// Allows reports whether another attempt may run after `attempts` have
// already completed.
func (p RetryPolicy) Allows(attempts int) bool {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	return attempts < limit
}
