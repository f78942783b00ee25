package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Session binds a connection to a participant identity within a room. It
// is ephemeral and never persisted with room state; the serialized form
// travels as a per-connection attachment so the registry can be rebuilt
// from surviving connections alone.
type Session struct {
	ParticipantID string `json:"participantId"`
	RoomID        string `json:"roomId"`
}

// Registry maps live connections to their authenticated sessions. Room
// storage cannot distinguish "participant still connected" from
// "participant disconnected while the room was idle", so the registry is
// reconstructable purely from connection attachments.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Connection]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*Connection]Session)}
}

// Authenticate binds a connection to a participant ID. Idempotent per
// connection; re-authenticating replaces the binding. The session is also
// serialized onto the connection as its attachment.
func (r *Registry) Authenticate(conn *Connection, userID string) error {
	session := Session{ParticipantID: userID, RoomID: conn.RoomID}
	attachment, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("serialize session attachment: %w", err)
	}
	conn.setAttachment(attachment)

	r.mu.Lock()
	r.sessions[conn] = session
	r.mu.Unlock()
	return nil
}

// Lookup returns the session bound to a connection, if any.
func (r *Registry) Lookup(conn *Connection) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[conn]
	return s, ok
}

// Drop removes a connection's binding.
func (r *Registry) Drop(conn *Connection) {
	r.mu.Lock()
	delete(r.sessions, conn)
	r.mu.Unlock()
}

// ForEach iterates the sessions of one room.
func (r *Registry) ForEach(roomID string, fn func(conn *Connection, s Session)) {
	r.mu.RLock()
	snapshot := make(map[*Connection]Session, len(r.sessions))
	for conn, s := range r.sessions {
		if s.RoomID == roomID {
			snapshot[conn] = s
		}
	}
	r.mu.RUnlock()

	for conn, s := range snapshot {
		fn(conn, s)
	}
}

// Rebuild reconstructs the registry from surviving connections'
// attachments after the binding table has been lost (connection
// suspension and resume). Connections without an attachment were never
// authenticated and stay unbound.
func (r *Registry) Rebuild(conns []*Connection) error {
	rebuilt := make(map[*Connection]Session, len(conns))
	for _, conn := range conns {
		attachment := conn.Attachment()
		if len(attachment) == 0 {
			continue
		}
		var s Session
		if err := json.Unmarshal(attachment, &s); err != nil {
			return fmt.Errorf("decode session attachment: %w", err)
		}
		rebuilt[conn] = s
	}

	r.mu.Lock()
	r.sessions = rebuilt
	r.mu.Unlock()
	return nil
}
