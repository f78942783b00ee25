package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// missedPongFactor scales the heartbeat interval into the window a pong
// must arrive within before the interval counts as missed.
const missedPongFactor = 1.15

// unstableMissCount is how many consecutive missed heartbeats mark the
// link unstable and force a close, so an apparently-open but dead
// connection cannot mask a real disconnection.
const unstableMissCount = 2

// heartbeat tracks server-side ping/pong liveness for one connection.
type heartbeat struct {
	interval time.Duration
	clock    clockwork.Clock

	mu          sync.Mutex
	outstanding map[string]time.Time
	lastPong    time.Time
	misses      int
}

func newHeartbeat(interval time.Duration, clock clockwork.Clock) *heartbeat {
	return &heartbeat{
		interval:    interval,
		clock:       clock,
		outstanding: make(map[string]time.Time),
		lastPong:    clock.Now(),
	}
}

// nextPingID allocates a correlation ID and records the send time for RTT
// measurement.
func (h *heartbeat) nextPingID() string {
	id := uuid.New().String()[:8]
	h.mu.Lock()
	h.outstanding[id] = h.clock.Now()
	h.mu.Unlock()
	return id
}

// observePong resolves a pong echo against its ping. Returns the measured
// round trip and whether the ID matched an outstanding ping. Any pong
// resets the miss counter.
func (h *heartbeat) observePong(id string) (time.Duration, bool) {
	now := h.clock.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastPong = now
	h.misses = 0

	sentAt, ok := h.outstanding[id]
	if !ok {
		return 0, false
	}
	delete(h.outstanding, id)
	return now.Sub(sentAt), true
}

// tickMissed runs once per heartbeat interval. If no pong arrived within
// the tolerance window it counts a miss; at unstableMissCount consecutive
// misses it reports the link unstable.
func (h *heartbeat) tickMissed() bool {
	tolerance := time.Duration(float64(h.interval) * missedPongFactor)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clock.Now().Sub(h.lastPong) > tolerance {
		h.misses++
	}
	return h.misses >= unstableMissCount
}
