package gateway

import (
	"fmt"
	"testing"
)

func TestRegistryAuthenticateAndLookup(t *testing.T) {
	r := NewRegistry()
	conn := &Connection{ID: "c1", RoomID: "room-1"}

	if _, ok := r.Lookup(conn); ok {
		t.Fatal("unbound connection has a session")
	}

	if err := r.Authenticate(conn, "user-1"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	s, ok := r.Lookup(conn)
	if !ok {
		t.Fatal("session missing after authenticate")
	}
	if s.ParticipantID != "user-1" || s.RoomID != "room-1" {
		t.Errorf("session = %+v", s)
	}

	// Re-authenticating replaces the binding.
	if err := r.Authenticate(conn, "user-2"); err != nil {
		t.Fatal(err)
	}
	if s, _ := r.Lookup(conn); s.ParticipantID != "user-2" {
		t.Errorf("rebind kept old participant %q", s.ParticipantID)
	}

	r.Drop(conn)
	if _, ok := r.Lookup(conn); ok {
		t.Error("session survived Drop")
	}
}

func TestRegistryForEachScopesToRoom(t *testing.T) {
	r := NewRegistry()
	a := &Connection{ID: "a", RoomID: "room-1"}
	b := &Connection{ID: "b", RoomID: "room-1"}
	c := &Connection{ID: "c", RoomID: "room-2"}
	for i, conn := range []*Connection{a, b, c} {
		if err := r.Authenticate(conn, fmt.Sprintf("user-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	seen := 0
	r.ForEach("room-1", func(conn *Connection, s Session) {
		seen++
		if conn.RoomID != "room-1" {
			t.Errorf("connection from room %s in room-1 iteration", conn.RoomID)
		}
	})
	if seen != 2 {
		t.Errorf("iterated %d sessions, want 2", seen)
	}
}

func TestRegistryRebuildFromAttachments(t *testing.T) {
	r := NewRegistry()
	authed := &Connection{ID: "a", RoomID: "room-1"}
	anon := &Connection{ID: "b", RoomID: "room-1"}
	if err := r.Authenticate(authed, "user-1"); err != nil {
		t.Fatal(err)
	}

	// Simulate suspension: the binding table is lost, attachments survive.
	fresh := NewRegistry()
	if err := fresh.Rebuild([]*Connection{authed, anon}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	s, ok := fresh.Lookup(authed)
	if !ok || s.ParticipantID != "user-1" || s.RoomID != "room-1" {
		t.Errorf("rebuilt session = %+v, ok = %v", s, ok)
	}
	if _, ok := fresh.Lookup(anon); ok {
		t.Error("never-authenticated connection gained a session on rebuild")
	}
}

func TestRegistryRebuildRejectsCorruptAttachment(t *testing.T) {
	conn := &Connection{ID: "a", RoomID: "room-1"}
	conn.setAttachment([]byte("{not json"))

	r := NewRegistry()
	if err := r.Rebuild([]*Connection{conn}); err == nil {
		t.Error("corrupt attachment accepted")
	}
}
