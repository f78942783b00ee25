package storage

import (
	"context"
	"sync"

	"github.com/pointdeck/pointdeck/internal/room"
)

// MemoryStore keeps room aggregates in process memory. The default store
// for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*room.State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*room.State)}
}

func (m *MemoryStore) Load(_ context.Context, roomID string) (*room.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.rooms[roomID]
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	return state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, roomID string, state *room.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[roomID] = state.Clone()
	return nil
}
