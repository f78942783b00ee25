package client

import (
	"math"
	"math/rand"
	"time"
)

const (
	// DefaultBaseDelay is the reconnect backoff floor.
	DefaultBaseDelay = 1000 * time.Millisecond
	// DefaultMaxDelay is the reconnect backoff ceiling.
	DefaultMaxDelay = 60 * time.Second
	// DefaultMaxAttempts is the reconnection budget before giving up.
	DefaultMaxAttempts = 15
	// jitterFraction spreads reconnect delays by up to ±30% so many
	// clients dropped by the same outage do not storm back in lockstep.
	jitterFraction = 0.3
)

// reconnector computes exponential reconnect delays with jitter and
// tracks the attempt budget.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(base, max time.Duration, maxAttempts int) *reconnector {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &reconnector{baseDelay: base, maxDelay: max, maxAttempts: maxAttempts}
}

// nextDelay consumes one attempt and returns the jittered delay for it.
// The second return is false once the budget is exhausted.
func (r *reconnector) nextDelay() (time.Duration, bool) {
	if r.attempt >= r.maxAttempts {
		return 0, false
	}
	delay := delayForAttempt(r.baseDelay, r.maxDelay, r.attempt)
	r.attempt++
	return delay, true
}

// attempts reports how many attempts have been consumed.
func (r *reconnector) attempts() int {
	return r.attempt
}

// reset restores the full budget after a successful connection.
func (r *reconnector) reset() {
	r.attempt = 0
}

// delayForAttempt is clamp(base * 2^attempt, base, max), jittered by up
// to ±jitterFraction and re-clamped to the same floor and ceiling.
func delayForAttempt(base, max time.Duration, attempt int) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt))
	jittered := exp * (1 - jitterFraction + 2*jitterFraction*rand.Float64())

	d := time.Duration(jittered)
	if d < base {
		d = base
	}
	if d > max {
		d = max
	}
	return d
}
