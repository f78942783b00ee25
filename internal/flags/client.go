package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Snapshot is the typed configuration surface the core consumes. It is
// refreshed asynchronously from the flag service; the rest of the system
// only ever sees a complete snapshot.
type Snapshot struct {
	AppEnabled            bool
	HeartbeatInterval     time.Duration
	MaxMessageSize        int
	MaxConnectionsPerRoom int
	MaxMessagesPerSecond  int
	RateLimitWindow       time.Duration
	RoomCreatesPerWindow  int
	LogLevel              string
}

// Defaults is the hardcoded fallback used whenever the flag service is
// unavailable. The core must keep running on these alone.
func Defaults() Snapshot {
	return Snapshot{
		AppEnabled:            true,
		HeartbeatInterval:     30 * time.Second,
		MaxMessageSize:        10 * 1024,
		MaxConnectionsPerRoom: 50,
		MaxMessagesPerSecond:  20,
		RateLimitWindow:       60 * time.Second,
		RoomCreatesPerWindow:  5,
		LogLevel:              "info",
	}
}

// wireFlags is the flag service response shape. Absent fields keep their
// fallback values.
type wireFlags struct {
	AppEnabled            *bool   `json:"APP_ENABLED"`
	HeartbeatIntervalMS   *int    `json:"HEARTBEAT_INTERVAL_MS"`
	MaxMessageSize        *int    `json:"MAX_MESSAGE_SIZE"`
	MaxConnectionsPerRoom *int    `json:"MAX_CONNECTIONS_PER_ROOM"`
	MaxMessagesPerSecond  *int    `json:"MAX_MESSAGES_PER_SECOND"`
	RateLimitWindowMS     *int    `json:"RATE_LIMIT_WINDOW_MS"`
	RoomCreatesPerWindow  *int    `json:"ROOM_CREATES_PER_WINDOW"`
	LogLevel              *string `json:"LOG_LEVEL"`
}

// Client polls the flag service and caches the latest snapshot. With an
// empty URL it serves defaults forever.
type Client struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	clock      clockwork.Clock

	mu   sync.RWMutex
	snap Snapshot
}

func NewClient(url string, pollInterval time.Duration, clock clockwork.Clock) *Client {
	return &Client{
		url:        url,
		interval:   pollInterval,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		clock:      clock,
		snap:       Defaults(),
	}
}

// Current returns the cached snapshot. Always safe to call.
func (c *Client) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Start polls until the context ends. The first refresh happens
// immediately so a reachable flag service takes effect at boot; every
// failure is logged and the cached snapshot stays in force.
func (c *Client) Start(ctx context.Context) {
	if c.url == "" {
		log.Info().Msg("no flag service configured, using default flags")
		return
	}

	c.refresh(ctx)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.refresh(ctx)
		}
	}
}

func (c *Client) refresh(ctx context.Context) {
	snap, err := c.fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Str("url", c.url).Msg("flag service unavailable, keeping cached flags")
		return
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	log.Debug().Str("url", c.url).Msg("flag snapshot refreshed")
}

func (c *Client) fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build flag request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch flags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("flag service returned %d", resp.StatusCode)
	}

	var wire wireFlags
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Snapshot{}, fmt.Errorf("decode flags: %w", err)
	}
	return merge(Defaults(), wire), nil
}

// merge applies remote values over the defaults. Intervals and sizes
// must stay positive; a zero or negative remote value keeps the default
// rather than arming a ticker or read limit that cannot work.
func merge(base Snapshot, wire wireFlags) Snapshot {
	if wire.AppEnabled != nil {
		base.AppEnabled = *wire.AppEnabled
	}
	if wire.HeartbeatIntervalMS != nil && *wire.HeartbeatIntervalMS > 0 {
		base.HeartbeatInterval = time.Duration(*wire.HeartbeatIntervalMS) * time.Millisecond
	}
	if wire.MaxMessageSize != nil && *wire.MaxMessageSize > 0 {
		base.MaxMessageSize = *wire.MaxMessageSize
	}
	if wire.MaxConnectionsPerRoom != nil {
		base.MaxConnectionsPerRoom = *wire.MaxConnectionsPerRoom
	}
	if wire.MaxMessagesPerSecond != nil {
		base.MaxMessagesPerSecond = *wire.MaxMessagesPerSecond
	}
	if wire.RateLimitWindowMS != nil && *wire.RateLimitWindowMS > 0 {
		base.RateLimitWindow = time.Duration(*wire.RateLimitWindowMS) * time.Millisecond
	}
	if wire.RoomCreatesPerWindow != nil {
		base.RoomCreatesPerWindow = *wire.RoomCreatesPerWindow
	}
	if wire.LogLevel != nil {
		base.LogLevel = *wire.LogLevel
	}
	return base
}
