package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/protocol"
)

// State is the connection lifecycle state.
type State string

const (
	StateConnecting   State = "CONNECTING"
	StateOpen         State = "OPEN"
	StateReconnecting State = "RECONNECTING"
	StateClosed       State = "CLOSED"
)

// ErrNotConnected is returned for non-queueable actions attempted while
// the connection is not open.
var ErrNotConnected = errors.New("not connected")

// Config configures a session manager.
type Config struct {
	// URL is the full websocket endpoint including the room, e.g.
	// ws://host/ws/ab12cd34.
	URL    string
	UserID string
	Name   string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	HeartbeatInterval time.Duration
	PresenceDebounce  time.Duration

	QueueCapacity int
	QueueTTL      time.Duration
	FlushSpacing  time.Duration

	Dialer *websocket.Dialer
	Clock  clockwork.Clock

	// OnUpdate receives each room state broadcast.
	OnUpdate func(payload json.RawMessage)
	// OnStateChange observes lifecycle transitions.
	OnStateChange func(state State)
	// OnGiveUp fires once when the reconnect budget is exhausted.
	OnGiveUp func()
}

func (c *Config) defaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Manager keeps one room session alive across drops, reconnects, and
// message loss. While the connection is down, queueable user actions
// accumulate in the outbox and are flushed in order once the channel
// reopens.
type Manager struct {
	config  Config
	clock   clockwork.Clock
	queue   *Queue
	quality *QualityMonitor
	netmon  *NetworkMonitor
	recon   *reconnector

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	intentional    bool
	loopCancel     context.CancelFunc
	reconnectTimer clockwork.Timer

	writeMu sync.Mutex

	pendMu       sync.Mutex
	pendingPings map[string]time.Time
	lastPong     time.Time
	misses       int
}

// NewManager builds a session manager. Call Connect to open the session
// and Close to end it.
func NewManager(config Config) *Manager {
	config.defaults()
	m := &Manager{
		config:       config,
		clock:        config.Clock,
		queue:        NewQueue(config.Clock, config.QueueCapacity, config.QueueTTL, config.FlushSpacing),
		quality:      NewQualityMonitor(),
		recon:        newReconnector(config.BaseDelay, config.MaxDelay, config.MaxAttempts),
		state:        StateConnecting,
		pendingPings: make(map[string]time.Time),
	}
	m.netmon = NewNetworkMonitor(config.Clock, config.PresenceDebounce, func(online bool) {
		if online {
			log.Info().Msg("network presence restored, forcing reconnect check")
			m.ForceReconnect()
		}
	})
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Quality classifies the link from recent ping samples.
func (m *Manager) Quality() LinkQuality {
	return m.quality.Classify()
}

// QueueLen reports how many actions wait in the offline outbox.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// SignalNetwork feeds an OS/browser network-presence observation.
func (m *Manager) SignalNetwork(online bool) {
	m.netmon.Signal(online)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed && m.config.OnStateChange != nil {
		m.config.OnStateChange(s)
	}
}

// Connect opens the session. On failure the reconnect machinery takes
// over, so a returned error means the first dial failed, not that the
// manager gave up.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.intentional = false
	m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		m.scheduleReconnect(ctx)
		return err
	}
	return nil
}

func (m *Manager) connect(ctx context.Context) error {
	m.setState(StateConnecting)

	conn, _, err := m.config.Dialer.DialContext(ctx, m.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.config.URL, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.conn = conn
	m.loopCancel = cancel
	m.mu.Unlock()

	m.recon.reset()
	m.quality.Reset()
	m.pendMu.Lock()
	m.pendingPings = make(map[string]time.Time)
	m.lastPong = m.clock.Now()
	m.misses = 0
	m.pendMu.Unlock()

	m.setState(StateOpen)

	// Re-establish identity before anything else; the server drops
	// unauthenticated traffic.
	if err := m.send(protocol.Auth{UserID: m.config.UserID}); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}
	if err := m.send(protocol.Join{Name: m.config.Name}); err != nil {
		conn.Close()
		return fmt.Errorf("send join: %w", err)
	}

	go m.readLoop(loopCtx, conn)
	go m.heartbeatLoop(loopCtx)
	go m.flushOutbox(loopCtx)

	log.Info().Str("url", m.config.URL).Msg("session connected")
	return nil
}

func (m *Manager) flushOutbox(ctx context.Context) {
	if m.queue.Len() == 0 {
		return
	}
	result := m.queue.Flush(ctx, m.sendRaw)
	log.Info().
		Int("sent", result.Sent).
		Int("discarded", result.Discarded).
		Int("failed", result.Failed).
		Msg("flushed offline outbox")
}

func (m *Manager) sendRaw(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return m.sendRaw(data)
}

// Vote sends or queues the participant's vote. Offline, a newer vote
// replaces any queued one.
func (m *Manager) Vote(value string) error {
	return m.sendOrQueue(ActionVote, protocol.Vote{Value: value})
}

// SetStory sends or queues a story title change.
func (m *Manager) SetStory(title string) error {
	return m.sendOrQueue(ActionSetStory, protocol.SetStory{Title: title})
}

// SetScale sends or queues a voting deck change.
func (m *Manager) SetScale(scale string) error {
	return m.sendOrQueue(ActionSetScale, protocol.SetScale{Scale: scale})
}

// SetAutoReveal sends or queues an auto-reveal toggle.
func (m *Manager) SetAutoReveal(enabled bool) error {
	return m.sendOrQueue(ActionSetAutoReveal, protocol.SetAutoReveal{Enabled: enabled})
}

// Reveal exposes the votes. Not queueable; fails offline.
func (m *Manager) Reveal() error { return m.sendLive(protocol.Reveal{}) }

// ResetRound starts a fresh round. Not queueable; fails offline.
func (m *Manager) ResetRound() error { return m.sendLive(protocol.Reset{}) }

// StartTimer arms the round countdown. Not queueable; fails offline.
func (m *Manager) StartTimer(durationSeconds int) error {
	return m.sendLive(protocol.StartTimer{DurationSeconds: durationSeconds})
}

// CancelTimer clears the round countdown. Not queueable; fails offline.
func (m *Manager) CancelTimer() error { return m.sendLive(protocol.CancelTimer{}) }

// SetTimerAutoReveal toggles reveal on timer expiry. Not queueable.
func (m *Manager) SetTimerAutoReveal(enabled bool) error {
	return m.sendLive(protocol.SetTimerAutoReveal{Enabled: enabled})
}

func (m *Manager) sendLive(msg protocol.Message) error {
	if m.State() != StateOpen {
		return ErrNotConnected
	}
	return m.send(msg)
}

func (m *Manager) sendOrQueue(kind ActionKind, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if m.State() == StateOpen {
		if err := m.sendRaw(data); err == nil {
			return nil
		}
		// A failed live send means the connection is dying; fall through
		// and queue for the reconnect flush.
	}
	return m.queue.Enqueue(kind, data)
}

// Ping issues a quality-measurement ping; the RTT lands in the quality
// monitor when the echo arrives.
func (m *Manager) Ping() error {
	id := uuid.New().String()[:8]
	m.pendMu.Lock()
	m.pendingPings[id] = m.clock.Now()
	m.pendMu.Unlock()

	if err := m.send(protocol.Ping{ID: id}); err != nil {
		m.pendMu.Lock()
		delete(m.pendingPings, id)
		m.pendMu.Unlock()
		return err
	}
	return nil
}

// serverFrame is the lenient decode of server-to-client traffic.
type serverFrame struct {
	Type    protocol.Kind   `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(ctx, err)
			return
		}

		var frame serverFrame
		if json.Unmarshal(data, &frame) != nil {
			log.Debug().Msg("ignoring undecodable server frame")
			continue
		}

		switch frame.Type {
		case protocol.KindPing:
			// Answer the server heartbeat immediately.
			if err := m.send(protocol.Pong{ID: frame.ID}); err != nil {
				log.Warn().Err(err).Msg("failed to answer heartbeat ping")
			}
		case protocol.KindPong:
			m.observePong(frame.ID)
		case protocol.KindUpdate:
			if m.config.OnUpdate != nil {
				m.config.OnUpdate(frame.Payload)
			}
		default:
			log.Debug().Str("type", string(frame.Type)).Msg("ignoring unknown server frame")
		}
	}
}

func (m *Manager) observePong(id string) {
	now := m.clock.Now()
	m.pendMu.Lock()
	m.lastPong = now
	m.misses = 0
	sentAt, ok := m.pendingPings[id]
	if ok {
		delete(m.pendingPings, id)
	}
	m.pendMu.Unlock()

	if ok {
		m.quality.AddSample(now.Sub(sentAt))
	}
}

// heartbeatLoop issues quality pings and watches for a dead link: two
// consecutive intervals without any pong mark the connection unstable
// and force a close so reconnection kicks in, instead of letting an
// apparently-open socket mask a real disconnection.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := m.clock.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	tolerance := time.Duration(float64(m.config.HeartbeatInterval) * 1.15)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.pendMu.Lock()
			missed := m.clock.Now().Sub(m.lastPong) > tolerance
			if missed {
				m.misses++
			}
			unstable := m.misses >= 2
			m.pendMu.Unlock()

			if unstable {
				log.Warn().Msg("link unstable after missed heartbeats, forcing reconnect")
				m.ForceReconnect()
				return
			}
			if err := m.Ping(); err != nil {
				log.Debug().Err(err).Msg("heartbeat ping send failed")
			}
		}
	}
}

// ForceReconnect proactively closes the transport so the read loop's
// error path drives a reconnection attempt, even while the connection is
// nominally open.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if open && conn != nil {
		conn.Close()
	}
}

func (m *Manager) handleDisconnect(ctx context.Context, cause error) {
	m.mu.Lock()
	intentional := m.intentional
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel = nil
	}
	m.conn = nil
	m.mu.Unlock()

	m.quality.Reset()

	if intentional {
		m.setState(StateClosed)
		return
	}

	log.Warn().Err(cause).Msg("connection lost")
	m.scheduleReconnect(ctx)
}

func (m *Manager) scheduleReconnect(ctx context.Context) {
	delay, ok := m.recon.nextDelay()
	if !ok {
		log.Error().Int("attempts", m.recon.attempts()).Msg("reconnect budget exhausted, giving up")
		m.setState(StateClosed)
		if m.config.OnGiveUp != nil {
			m.config.OnGiveUp()
		}
		return
	}

	m.setState(StateReconnecting)
	log.Info().
		Int("attempt", m.recon.attempts()).
		Dur("delay", delay).
		Msg("scheduling reconnect")

	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		intentional := m.intentional
		m.mu.Unlock()
		if intentional {
			return
		}
		if err := m.connect(ctx); err != nil {
			log.Warn().Err(err).Msg("reconnect attempt failed")
			m.scheduleReconnect(ctx)
		}
	})
	m.mu.Unlock()
}

// Close ends the session intentionally: no retry, all timers cancelled
// deterministically so nothing leaks across reconnect cycles.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.intentional = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.netmon.Stop()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"), deadline)
		conn.Close()
	}
	m.setState(StateClosed)
	return nil
}
