package pipeline

import "time"

const (
	defaultBaseDelay   = 3 * time.Second
	maxInterBatchDelay = 15 * time.Second
	delayPerError      = 500 * time.Millisecond
)

// NextDelay computes the politeness pause between batches. The pause grows
// with the cumulative validation error count: once the upstream has
// signalled distress we slow the whole run down, capped so a long error
// tail cannot stall it.
func NextDelay(base time.Duration, errorCount int) time.Duration {
	if base <= 0 {
		base = defaultBaseDelay
	}
	delay := base + time.Duration(errorCount)*delayPerError
	if delay > maxInterBatchDelay {
		delay = maxInterBatchDelay
	}
	return delay
}
