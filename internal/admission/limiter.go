package admission

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrRateLimited is the structured rejection for a throttled source.
var ErrRateLimited = errors.New("rate limited")

// Limiter applies a fixed-window count limit per source address to room
// creation.
type Limiter struct {
	clock  clockwork.Clock
	window time.Duration
	limit  int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
}

// NewLimiter builds a limiter allowing limit events per window per source.
func NewLimiter(clock clockwork.Clock, window time.Duration, limit int) *Limiter {
	return &Limiter{
		clock:   clock,
		window:  window,
		limit:   limit,
		buckets: make(map[string]*bucket),
	}
}

// Allow records one event for the source and reports whether it is within
// the window budget. Returns ErrRateLimited when over budget; the event
// still counts against nothing extra (the window total is unchanged by
// rejected attempts beyond the limit).
func (l *Limiter) Allow(source string) error {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	b, ok := l.buckets[source]
	if !ok || now.Sub(b.windowStart) >= l.window {
		b = &bucket{windowStart: now}
		l.buckets[source] = b
	}
	if b.count >= l.limit {
		return ErrRateLimited
	}
	b.count++
	return nil
}

// pruneLocked drops buckets whose window has passed so the map does not
// grow with one entry per address forever.
func (l *Limiter) pruneLocked(now time.Time) {
	if len(l.buckets) < 1024 {
		return
	}
	for source, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, source)
		}
	}
}

// SourceAddr extracts the originating network address of a request. A
// request with no extractable address gets a synthetic unique source so it
// neither bypasses the limiter nor collides with real traffic.
func SourceAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop in the chain is the client.
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown-" + uuid.New().String()
}
