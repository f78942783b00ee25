package gateway

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestHeartbeatMeasuresRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hb := newHeartbeat(30*time.Second, clock)

	id := hb.nextPingID()
	clock.Advance(42 * time.Millisecond)

	rtt, ok := hb.observePong(id)
	if !ok {
		t.Fatal("pong did not match its ping")
	}
	if rtt != 42*time.Millisecond {
		t.Errorf("rtt = %v, want 42ms", rtt)
	}

	// The same ID resolves only once.
	if _, ok := hb.observePong(id); ok {
		t.Error("replayed pong matched again")
	}
}

func TestHeartbeatUnstableAfterTwoMisses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hb := newHeartbeat(30*time.Second, clock)

	// Tolerance is interval * 1.15 = 34.5s; each tick past it is a miss.
	clock.Advance(35 * time.Second)
	if hb.tickMissed() {
		t.Fatal("unstable after a single miss")
	}
	clock.Advance(30 * time.Second)
	if !hb.tickMissed() {
		t.Fatal("not unstable after two consecutive misses")
	}
}

func TestHeartbeatPongResetsMisses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hb := newHeartbeat(30*time.Second, clock)

	clock.Advance(35 * time.Second)
	if hb.tickMissed() {
		t.Fatal("unstable after one miss")
	}

	// An unsolicited pong still proves the link is alive.
	hb.observePong("whatever")

	clock.Advance(30 * time.Second)
	if hb.tickMissed() {
		t.Error("miss count not reset by pong")
	}
}

func TestRateWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rw := newRateWindow(clock, 2)

	if !rw.allow() || !rw.allow() {
		t.Fatal("messages inside the limit rejected")
	}
	if rw.allow() {
		t.Fatal("third message in the window allowed")
	}

	clock.Advance(time.Second)
	if !rw.allow() {
		t.Error("fresh window did not admit")
	}
}

func TestRateWindowUnlimited(t *testing.T) {
	rw := newRateWindow(clockwork.NewFakeClock(), 0)
	for i := 0; i < 100; i++ {
		if !rw.allow() {
			t.Fatal("zero limit should disable the window")
		}
	}
}
