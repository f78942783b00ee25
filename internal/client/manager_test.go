package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoRoomServer upgrades connections, checks the auth/join handshake,
// and hands the socket to the test through conns.
func echoRoomServer(t *testing.T, conns chan *websocket.Conn) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		for _, want := range []string{"auth", "join"} {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				t.Errorf("read %s: %v", want, err)
				return
			}
			if frame["type"] != want {
				t.Errorf("handshake frame = %v, want type %s", frame, want)
			}
		}
		conns <- conn
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/testroom"
}

func TestManagerConnectAndUpdateDelivery(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	srv := echoRoomServer(t, conns)
	defer srv.Close()

	updates := make(chan json.RawMessage, 1)
	m := NewManager(Config{
		URL:    wsURL(srv),
		UserID: "user-1",
		Name:   "Ada",
		OnUpdate: func(payload json.RawMessage) {
			updates <- payload
		},
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Close()

	conn := <-conns
	defer conn.Close()
	if err := conn.WriteJSON(map[string]any{
		"type":    "update",
		"payload": map[string]any{"storyTitle": "PD-42"},
	}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case payload := <-updates:
		if !strings.Contains(string(payload), "PD-42") {
			t.Errorf("update payload = %s, want story title", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
	if got := m.State(); got != StateOpen {
		t.Errorf("State = %s, want OPEN", got)
	}
}

func TestManagerAnswersServerPing(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	srv := echoRoomServer(t, conns)
	defer srv.Close()

	m := NewManager(Config{URL: wsURL(srv), UserID: "user-1", Name: "Ada"})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Close()

	conn := <-conns
	defer conn.Close()
	if err := conn.WriteJSON(map[string]any{"type": "ping", "id": "hb-7"}); err != nil {
		t.Fatalf("server ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if frame["type"] != "pong" || frame["id"] != "hb-7" {
		t.Errorf("pong frame = %v, want echoed id hb-7", frame)
	}
}

func TestManagerQueuesWhileOffline(t *testing.T) {
	m := NewManager(Config{URL: "ws://127.0.0.1:1/ws/x", UserID: "u", Name: "n"})
	defer m.Close()

	if err := m.Vote("5"); err != nil {
		t.Fatalf("offline vote should queue: %v", err)
	}
	if err := m.Vote("8"); err != nil {
		t.Fatalf("offline revote should queue: %v", err)
	}
	if err := m.SetStory("PD-1"); err != nil {
		t.Fatalf("offline setStory should queue: %v", err)
	}
	// Revote replaced the first vote.
	if got := m.QueueLen(); got != 2 {
		t.Errorf("QueueLen = %d, want 2", got)
	}

	if err := m.Reveal(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("offline Reveal: got %v, want ErrNotConnected", err)
	}
	if err := m.StartTimer(60); !errors.Is(err, ErrNotConnected) {
		t.Errorf("offline StartTimer: got %v, want ErrNotConnected", err)
	}
}

func TestManagerGivesUpAfterBudget(t *testing.T) {
	gaveUp := make(chan struct{})
	m := NewManager(Config{
		// Nothing listens on port 1; every dial fails fast.
		URL:         "ws://127.0.0.1:1/ws/x",
		UserID:      "u",
		Name:        "n",
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		MaxAttempts: 3,
		OnGiveUp:    func() { close(gaveUp) },
	})

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("Connect to a refused port succeeded")
	}

	select {
	case <-gaveUp:
	case <-time.After(5 * time.Second):
		t.Fatal("OnGiveUp never fired")
	}
	if got := m.State(); got != StateClosed {
		t.Errorf("State after give-up = %s, want CLOSED", got)
	}
}

func TestManagerIntentionalCloseDoesNotReconnect(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	srv := echoRoomServer(t, conns)
	defer srv.Close()

	states := make(chan State, 8)
	m := NewManager(Config{
		URL:           wsURL(srv),
		UserID:        "u",
		Name:          "n",
		BaseDelay:     time.Millisecond,
		OnStateChange: func(s State) { states <- s },
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := <-conns
	defer conn.Close()

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := m.State(); got != StateClosed {
		t.Fatalf("State = %s, want CLOSED", got)
	}

	// Give a stray reconnect a moment to surface; none should.
	time.Sleep(50 * time.Millisecond)
	for {
		select {
		case s := <-states:
			if s == StateReconnecting {
				t.Fatal("manager reconnected after intentional close")
			}
		default:
			return
		}
	}
}

func TestManagerPongSamplesQuality(t *testing.T) {
	m := NewManager(Config{URL: "ws://127.0.0.1:1/ws/x", UserID: "u", Name: "n"})
	defer m.Close()

	m.pendMu.Lock()
	m.pendingPings["q1"] = m.clock.Now().Add(-40 * time.Millisecond)
	m.pendMu.Unlock()

	m.observePong("q1")
	if got := m.Quality(); got != QualityGood {
		t.Errorf("Quality = %s, want good from a 40ms sample", got)
	}

	// An unsolicited pong is harmless and adds no sample.
	m.observePong("unknown")
	m.quality.Reset()
	if got := m.Quality(); got != QualityDisconnected {
		t.Errorf("Quality = %s, want disconnected after reset", got)
	}
}
