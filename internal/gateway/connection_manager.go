package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/flags"
	"github.com/pointdeck/pointdeck/internal/protocol"
	"github.com/pointdeck/pointdeck/internal/room"
)

// ErrRoomFull is returned when a room is at its connection cap.
var ErrRoomFull = errors.New("room at connection capacity")

// FlagSource supplies the current flag snapshot.
type FlagSource interface {
	Current() flags.Snapshot
}

// ConnectionConfig holds websocket transport configuration.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// ConnectionManager owns the websocket connection pools, one per room,
// and fans room updates out to them. It implements room.Broadcaster.
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	registry *Registry
	rooms    *room.Manager
	flags    FlagSource
	clock    clockwork.Clock
}

// Connection represents one websocket connection to a client.
type Connection struct {
	ID     string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte

	manager        *ConnectionManager
	hb             *heartbeat
	msgRate        *rateWindow
	maxMessageSize int

	ctx    context.Context
	cancel context.CancelFunc

	attachMu   sync.Mutex
	attachment []byte

	ConnectedAt time.Time
}

// NewConnectionManager creates a websocket connection manager.
func NewConnectionManager(config ConnectionConfig, rooms *room.Manager, flagSource FlagSource, clock clockwork.Clock) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:   config,
		registry: NewRegistry(),
		rooms:    rooms,
		flags:    flagSource,
		clock:    clock,
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket connection
// bound to a room and starts its pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, roomID string) error {
	snap := cm.flags.Current()

	// Early check so a full room is refused with a plain HTTP status
	// before the handshake starts. The authoritative check runs under the
	// write lock in registerConnection; two concurrent upgrades cannot
	// both slip past the cap.
	cm.mu.RLock()
	open := len(cm.roomConnections[roomID])
	cm.mu.RUnlock()
	if snap.MaxConnectionsPerRoom > 0 && open >= snap.MaxConnectionsPerRoom {
		return ErrRoomFull
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		ID:             uuid.New().String(),
		RoomID:         roomID,
		Conn:           conn,
		Send:           make(chan []byte, cm.config.SendBuffer),
		manager:        cm,
		hb:             newHeartbeat(snap.HeartbeatInterval, cm.clock),
		msgRate:        newRateWindow(cm.clock, snap.MaxMessagesPerSecond),
		maxMessageSize: snap.MaxMessageSize,
		ctx:            ctx,
		cancel:         cancel,
		ConnectedAt:    cm.clock.Now(),
	}

	if err := cm.registerConnection(connection, snap.MaxConnectionsPerRoom); err != nil {
		cancel()
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "room full")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return err
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("room_id", roomID).
		Msg("websocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection, maxPerRoom int) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if maxPerRoom > 0 && len(cm.roomConnections[conn.RoomID]) >= maxPerRoom {
		return ErrRoomFull
	}

	if cm.roomConnections[conn.RoomID] == nil {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomID][conn] = true
	metricConnectionsOpen.Inc()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", conn.RoomID).
		Int("room_connections", len(cm.roomConnections[conn.RoomID])).
		Msg("connection registered")
	return nil
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.roomConnections[conn.RoomID]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	// Send is never closed; shutdown travels through the connection
	// context so a pong reply or broadcast racing the unregister cannot
	// hit a closed channel.
	conn.cancel()
	metricConnectionsOpen.Dec()

	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("room_id", conn.RoomID).
		Msg("connection unregistered")
}

// RoomUpdated implements room.Broadcaster: the rendered view is encoded
// once and delivered to every connection of the room. A connection that
// cannot keep up is dropped; its failure never aborts delivery to the
// rest.
func (cm *ConnectionManager) RoomUpdated(roomID string, view room.View) {
	data, err := json.Marshal(protocol.NewUpdate(view))
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to marshal update broadcast")
		return
	}

	cm.mu.RLock()
	connections := cm.roomConnections[roomID]
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Str("room_id", roomID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	metricBroadcasts.Inc()
	log.Debug().
		Str("room_id", roomID).
		Int("connections", len(targets)).
		Msg("room update broadcasted")
}

// RehydrateSessions rebuilds the session registry from the attachments of
// every currently-registered connection.
func (cm *ConnectionManager) RehydrateSessions() error {
	cm.mu.RLock()
	var conns []*Connection
	for _, pool := range cm.roomConnections {
		for conn := range pool {
			conns = append(conns, conn)
		}
	}
	cm.mu.RUnlock()

	return cm.registry.Rebuild(conns)
}

// ConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) ConnectionStats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	roomCounts := make(map[string]int)
	for roomID, connections := range cm.roomConnections {
		total += len(connections)
		roomCounts[roomID] = len(connections)
	}
	return map[string]any{
		"total_connections": total,
		"active_rooms":      len(cm.roomConnections),
		"room_connections":  roomCounts,
	}
}

// dispatch routes one decoded message. Auth and ping are the only
// messages accepted before authentication; everything else on an unbound
// connection is a protocol violation that closes it.
func (cm *ConnectionManager) dispatch(c *Connection, msg protocol.Message) error {
	actor := cm.rooms.Room(c.RoomID)

	switch v := msg.(type) {
	case protocol.Auth:
		if err := cm.registry.Authenticate(c, v.UserID); err != nil {
			return err
		}
		log.Debug().
			Str("connection_id", c.ID).
			Str("user_id", v.UserID).
			Msg("connection authenticated")
		return actor.Touch(c.ctx)

	case protocol.Ping:
		frame, err := protocol.EncodePong(v.ID)
		if err != nil {
			return err
		}
		c.trySend(frame)
		return actor.Touch(c.ctx)

	case protocol.Pong:
		// Heartbeat pings start as soon as the socket opens, before auth
		// completes, so their pong echoes are accepted unauthenticated.
		if rtt, ok := c.hb.observePong(v.ID); ok {
			log.Debug().
				Str("connection_id", c.ID).
				Dur("rtt", rtt).
				Msg("heartbeat pong")
		}
		return actor.Touch(c.ctx)
	}

	session, ok := cm.registry.Lookup(c)
	if !ok {
		return &protocol.Error{Reason: protocol.ReasonUnauthenticated}
	}

	var opErr error
	switch v := msg.(type) {
	case protocol.Join:
		opErr = actor.Join(c.ctx, session.ParticipantID, v.Name)
	case protocol.Vote:
		opErr = actor.Vote(c.ctx, session.ParticipantID, v.Value)
	case protocol.Reveal:
		opErr = actor.Reveal(c.ctx)
	case protocol.Reset:
		opErr = actor.Reset(c.ctx)
	case protocol.StartTimer:
		opErr = actor.StartTimer(c.ctx, v.DurationSeconds)
	case protocol.CancelTimer:
		opErr = actor.CancelTimer(c.ctx)
	case protocol.SetTimerAutoReveal:
		opErr = actor.SetTimerAutoReveal(c.ctx, v.Enabled)
	case protocol.SetStory:
		opErr = actor.SetStory(c.ctx, v.Title)
	case protocol.SetScale:
		opErr = actor.SetScale(c.ctx, v.Scale)
	case protocol.SetAutoReveal:
		opErr = actor.SetAutoReveal(c.ctx, v.Enabled)
	default:
		return &protocol.Error{Reason: protocol.ReasonInvalidType}
	}

	// Operation rejections and internal mutation failures are contained:
	// logged, state untouched, connection kept.
	if opErr != nil {
		log.Warn().
			Err(opErr).
			Str("connection_id", c.ID).
			Str("room_id", c.RoomID).
			Str("kind", string(msg.Kind())).
			Msg("room operation rejected")
	}
	return nil
}

// setAttachment stores the serialized session on the connection.
func (c *Connection) setAttachment(data []byte) {
	c.attachMu.Lock()
	c.attachment = data
	c.attachMu.Unlock()
}

// Attachment returns the serialized session carried by the connection.
func (c *Connection) Attachment() []byte {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	return c.attachment
}

// trySend queues a frame without blocking; a full buffer drops the frame.
func (c *Connection) trySend(data []byte) {
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping frame")
	}
}

// closeWithReason sends a close frame carrying a machine-readable reason
// and tears the connection down.
func (c *Connection) closeWithReason(reason string) {
	metricProtocolRejections.WithLabelValues(reason).Inc()
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := c.Conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write close frame")
	}
	c.Conn.Close()
}

// writePump serializes all writes to the websocket: queued frames plus
// the heartbeat ping each interval.
func (c *Connection) writePump() {
	ticker := c.manager.clock.NewTicker(c.hb.interval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.cancel()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message")
				return
			}

		case <-ticker.Chan():
			if c.hb.tickMissed() {
				log.Warn().
					Str("connection_id", c.ID).
					Str("room_id", c.RoomID).
					Msg("link unstable after missed heartbeats, forcing close")
				metricHeartbeatUnstable.Inc()
				return
			}
			frame, err := protocol.EncodePing(c.hb.nextPingID())
			if err != nil {
				log.Error().Err(err).Msg("failed to encode heartbeat ping")
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send heartbeat ping")
				return
			}

		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump reads, validates, and dispatches inbound frames. On exit the
// participant is removed from the room.
func (c *Connection) readPump() {
	defer func() {
		c.teardown()
	}()

	// Let oversized frames through to Decode so they are rejected with a
	// distinguishing close reason rather than an opaque transport error.
	c.Conn.SetReadLimit(int64(c.maxMessageSize) + 1024)

	for {
		messageType, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close")
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.closeWithReason(protocol.ReasonInvalidFormat)
			return
		}

		if !c.msgRate.allow() {
			log.Warn().
				Str("connection_id", c.ID).
				Str("room_id", c.RoomID).
				Msg("inbound message rate exceeded, dropping frame")
			continue
		}

		msg, err := protocol.Decode(data, c.maxMessageSize)
		if err != nil {
			var perr *protocol.Error
			if errors.As(err, &perr) {
				c.closeWithReason(perr.Reason)
			} else {
				c.closeWithReason(protocol.ReasonInvalidFormat)
			}
			return
		}
		metricMessagesReceived.Inc()

		if err := c.manager.dispatch(c, msg); err != nil {
			var perr *protocol.Error
			if errors.As(err, &perr) {
				c.closeWithReason(perr.Reason)
			} else {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("dispatch failed")
			}
			return
		}
	}
}

// teardown unwinds one connection: pool, pumps, registry, and the
// participant's room membership.
func (c *Connection) teardown() {
	c.manager.unregisterConnection(c)
	c.cancel()
	c.Conn.Close()

	session, ok := c.manager.registry.Lookup(c)
	c.manager.registry.Drop(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.manager.rooms.Room(c.RoomID).Disconnect(ctx, session.ParticipantID); err != nil {
		log.Error().
			Err(err).
			Str("room_id", c.RoomID).
			Str("user_id", session.ParticipantID).
			Msg("failed to remove participant on disconnect")
	}
}

// rateWindow counts messages in one-second fixed windows.
type rateWindow struct {
	clock clockwork.Clock
	limit int

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

func newRateWindow(clock clockwork.Clock, limit int) *rateWindow {
	return &rateWindow{clock: clock, limit: limit, windowStart: clock.Now()}
}

func (r *rateWindow) allow() bool {
	if r.limit <= 0 {
		return true
	}
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.windowStart) >= time.Second {
		r.windowStart = now
		r.count = 0
	}
	if r.count >= r.limit {
		return false
	}
	r.count++
	return true
}
