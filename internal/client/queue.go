package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ActionKind tags a queueable user action.
type ActionKind string

const (
	ActionVote          ActionKind = "vote"
	ActionSetStory      ActionKind = "setStory"
	ActionSetScale      ActionKind = "setScale"
	ActionSetAutoReveal ActionKind = "setAutoReveal"
)

// ErrQueueFull rejects a new enqueue when the outbox is at capacity. The
// existing queue is untouched.
var ErrQueueFull = errors.New("message queue full")

const (
	// DefaultQueueCapacity bounds the offline outbox.
	DefaultQueueCapacity = 10
	// DefaultQueueTTL expires entries that waited too long to send.
	DefaultQueueTTL = 15 * time.Second
	// DefaultFlushSpacing is the pause between sequential sends on flush,
	// so a reconnect does not burst into a rate limit.
	DefaultFlushSpacing = 100 * time.Millisecond
)

// QueuedMessage is one pending user action captured while offline.
type QueuedMessage struct {
	Kind       ActionKind
	Payload    []byte
	EnqueuedAt time.Time
}

// Queue is the bounded, deduplicating, TTL-expiring outbox flushed on
// reconnect. Delivery is at-most-once, best-effort.
type Queue struct {
	clock    clockwork.Clock
	capacity int
	ttl      time.Duration
	spacing  time.Duration

	mu      sync.Mutex
	entries []QueuedMessage
}

func NewQueue(clock clockwork.Clock, capacity int, ttl, spacing time.Duration) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if ttl <= 0 {
		ttl = DefaultQueueTTL
	}
	if spacing <= 0 {
		spacing = DefaultFlushSpacing
	}
	return &Queue{clock: clock, capacity: capacity, ttl: ttl, spacing: spacing}
}

// Enqueue adds a pending action. Expired entries are dropped first; a new
// vote replaces any queued vote (last writer wins); a full queue rejects
// the new entry with ErrQueueFull and keeps what it has.
func (q *Queue) Enqueue(kind ActionKind, payload []byte) error {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.dropExpiredLocked(now)

	if kind == ActionVote {
		kept := q.entries[:0]
		for _, e := range q.entries {
			if e.Kind != ActionVote {
				kept = append(kept, e)
			}
		}
		q.entries = kept
	}

	if len(q.entries) >= q.capacity {
		return ErrQueueFull
	}

	q.entries = append(q.entries, QueuedMessage{Kind: kind, Payload: payload, EnqueuedAt: now})
	return nil
}

// Len reports the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) dropExpiredLocked(now time.Time) int {
	kept := q.entries[:0]
	dropped := 0
	for _, e := range q.entries {
		if now.Sub(e.EnqueuedAt) > q.ttl {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	return dropped
}

// FlushResult summarizes one flush pass.
type FlushResult struct {
	Sent      int
	Discarded int
	Failed    int
}

// Flush drains the queue after a reconnect: expired entries are dropped
// and counted, the rest are sent sequentially in enqueue order with a
// fixed spacing between sends. An individual send failure is logged and
// skipped; it never aborts delivery of the rest. The queue is cleared
// unconditionally when the pass completes. Failed messages are not
// re-queued: by the time a send fails the connection is almost certainly
// already dying and a later reconnect would replay stale intent.
func (q *Queue) Flush(ctx context.Context, send func(payload []byte) error) FlushResult {
	now := q.clock.Now()

	q.mu.Lock()
	discarded := q.dropExpiredLocked(now)
	pending := q.entries
	q.entries = nil
	q.mu.Unlock()

	result := FlushResult{Discarded: discarded}
	if discarded > 0 {
		log.Info().Int("discarded", discarded).Msg("dropped stale queued messages before flush")
	}

	for i, e := range pending {
		if i > 0 {
			select {
			case <-q.clock.After(q.spacing):
			case <-ctx.Done():
				return result
			}
		}
		if err := send(e.Payload); err != nil {
			result.Failed++
			log.Warn().
				Err(err).
				Str("kind", string(e.Kind)).
				Msg("failed to send queued message, skipping")
			continue
		}
		result.Sent++
	}
	return result
}
