package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Manager owns one actor per live room, spawning them lazily. Rooms never
// share mutable state, so actors need no coordination between them.
type Manager struct {
	store Store
	clock clockwork.Clock

	mu        sync.Mutex
	actors    map[string]*Actor
	broadcast Broadcaster
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a room manager. SetBroadcaster must be called before
// the first actor is spawned; the gateway and the manager reference each
// other, so wiring is two-phase.
func NewManager(store Store, clock clockwork.Clock) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		actors: make(map[string]*Actor),
	}
}

// SetBroadcaster installs the broadcast sink for all actors.
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = b
}

// Start anchors the lifetime of all actor goroutines. It returns
// immediately; Stop (or cancelling ctx) winds the actors down.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	log.Info().Msg("room manager started")
}

// Stop cancels every actor goroutine.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	log.Info().Msg("room manager stopped")
}

// Room returns the actor for a room, spawning it on first access.
func (m *Manager) Room(roomID string) *Actor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.actors[roomID]; ok {
		return a
	}

	broadcast := m.broadcast
	if broadcast == nil {
		broadcast = MultiBroadcaster(nil)
	}
	a := newActor(roomID, m.store, broadcast, m.clock)
	m.actors[roomID] = a

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go a.run(ctx)

	return a
}

// CreateRoom allocates a short URL-safe room ID and persists the default
// aggregate for it.
func (m *Manager) CreateRoom(ctx context.Context) (string, error) {
	roomID := uuid.New().String()[:8]
	if err := m.store.Save(ctx, roomID, NewState()); err != nil {
		return "", fmt.Errorf("create room %s: %w", roomID, err)
	}
	log.Info().Str("room_id", roomID).Msg("room created")
	return roomID, nil
}

// ActiveRooms returns the IDs of rooms with a live actor.
func (m *Manager) ActiveRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.actors))
	for id := range m.actors {
		ids = append(ids, id)
	}
	return ids
}
