package bridge

import "sync/atomic"

// DefaultFailureThreshold is the number of consecutive transfer failures
// tolerated before the session is considered lost.
const DefaultFailureThreshold = 3

// FailureCounter escalates sustained transfer failures. Both forwarding
// directions share one counter; any successful transfer resets it, so
// occasional congestion is absorbed while sustained failure ends the
// session. Racy increments are acceptable — only crossing the threshold
// matters, not the exact count.
type FailureCounter struct {
	n         atomic.Int32
	threshold int32
}

// NewFailureCounter creates a counter with the given threshold. A
// non-positive threshold falls back to the default.
func NewFailureCounter(threshold int) *FailureCounter {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &FailureCounter{threshold: int32(threshold)}
}

// Fail records one transfer failure and reports the running count and
// whether the threshold has been reached.
func (c *FailureCounter) Fail() (count int, escalate bool) {
	n := c.n.Add(1)
	return int(n), n >= c.threshold
}

// Reset clears the counter after a successful transfer.
func (c *FailureCounter) Reset() {
	c.n.Store(0)
}

// Count returns the current consecutive-failure count.
func (c *FailureCounter) Count() int {
	return int(c.n.Load())
}

// Threshold returns the escalation threshold.
func (c *FailureCounter) Threshold() int {
	return int(c.threshold)
}
