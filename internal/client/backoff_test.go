package client

import (
	"testing"
	"time"
)

func TestDelayForAttemptBounds(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		exp := float64(base) * float64(int(1)<<attempt)
		lo := time.Duration(exp * (1 - jitterFraction))
		hi := time.Duration(exp * (1 + jitterFraction))
		if lo < base {
			lo = base
		}
		if hi > max {
			hi = max
		}

		for i := 0; i < 50; i++ {
			d := delayForAttempt(base, max, attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestDelayForAttemptClampsToCeiling(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	// 2^20 seconds is far past the ceiling regardless of jitter.
	if d := delayForAttempt(base, max, 20); d != max {
		t.Fatalf("delay = %v, want ceiling %v", d, max)
	}
}

func TestReconnectorBudget(t *testing.T) {
	r := newReconnector(time.Second, 60*time.Second, 3)

	for i := 0; i < 3; i++ {
		if _, ok := r.nextDelay(); !ok {
			t.Fatalf("attempt %d: budget exhausted early", i+1)
		}
	}
	if _, ok := r.nextDelay(); ok {
		t.Fatal("4th attempt granted past a budget of 3")
	}
	if got := r.attempts(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}

	r.reset()
	if _, ok := r.nextDelay(); !ok {
		t.Fatal("budget not restored by reset")
	}
}

func TestReconnectorDefaults(t *testing.T) {
	r := newReconnector(0, 0, 0)
	if r.baseDelay != DefaultBaseDelay || r.maxDelay != DefaultMaxDelay || r.maxAttempts != DefaultMaxAttempts {
		t.Errorf("defaults not applied: %+v", r)
	}
}
