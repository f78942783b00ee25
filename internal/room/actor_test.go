package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// stubStore is an in-package store with failure injection. The gateway
// normally wires the storage package here; tests keep it local to avoid
// an import cycle.
type stubStore struct {
	mu      sync.Mutex
	rooms   map[string]*State
	saveErr error
	saves   int
}

func newStubStore() *stubStore {
	return &stubStore{rooms: make(map[string]*State)}
}

func (s *stubStore) Load(_ context.Context, roomID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return state.Clone(), nil
}

func (s *stubStore) Save(_ context.Context, roomID string, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.rooms[roomID] = state.Clone()
	return nil
}

func (s *stubStore) failSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

type captureBroadcaster struct {
	mu    sync.Mutex
	views []View
}

func (c *captureBroadcaster) RoomUpdated(_ string, view View) {
	c.mu.Lock()
	c.views = append(c.views, view)
	c.mu.Unlock()
}

func (c *captureBroadcaster) last() (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.views) == 0 {
		return View{}, false
	}
	return c.views[len(c.views)-1], true
}

func startTestActor(t *testing.T, store Store, clock clockwork.Clock) (*Actor, *captureBroadcaster) {
	t.Helper()
	bc := &captureBroadcaster{}
	a := newActor("test-room", store, bc, clock)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.run(ctx)
	return a, bc
}

func TestActorRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	a, bc := startTestActor(t, store, clockwork.NewFakeClock())

	if err := a.Join(ctx, "a", "Ada"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := a.Vote(ctx, "a", "5"); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := a.Reveal(ctx); err != nil {
		t.Fatalf("Reveal: %v", err)
	}

	view, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !view.VotesRevealed {
		t.Error("votes not revealed")
	}
	if len(view.Participants) != 1 || *view.Participants[0].Vote != "5" {
		t.Errorf("view = %+v, want one participant with vote 5", view.Participants)
	}

	// Each mutation persisted and broadcast.
	if store.saves != 3 {
		t.Errorf("saves = %d, want 3", store.saves)
	}
	if last, ok := bc.last(); !ok || !last.VotesRevealed {
		t.Error("final broadcast missing or stale")
	}

	persisted, err := store.Load(ctx, "test-room")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !persisted.VotesRevealed {
		t.Error("reveal not durable")
	}
}

func TestActorSerializesConcurrentVotes(t *testing.T) {
	ctx := context.Background()
	a, _ := startTestActor(t, newStubStore(), clockwork.NewFakeClock())

	const voters = 20
	for i := 0; i < voters; i++ {
		if err := a.Join(ctx, fmt.Sprintf("u%02d", i), fmt.Sprintf("User %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Vote(ctx, fmt.Sprintf("u%02d", i), fmt.Sprintf("%d", i))
		}(i)
	}
	wg.Wait()

	view, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range view.Participants {
		if !p.HasVoted {
			t.Errorf("participant %s lost their vote under concurrency", p.ID)
		}
	}
}

func TestActorPersistFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	a, _ := startTestActor(t, store, clockwork.NewFakeClock())

	if err := a.Join(ctx, "a", "Ada"); err != nil {
		t.Fatal(err)
	}

	dbDown := errors.New("connection refused")
	store.failSaves(dbDown)
	if err := a.Vote(ctx, "a", "5"); err == nil {
		t.Fatal("vote succeeded while persistence was down")
	}

	store.failSaves(nil)
	view, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// The failed mutation never swapped in.
	if view.Participants[0].HasVoted {
		t.Error("half-applied vote visible after persist failure")
	}

	if err := a.Vote(ctx, "a", "8"); err != nil {
		t.Fatalf("vote after recovery: %v", err)
	}
}

func TestActorLazyTimerExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	a, _ := startTestActor(t, newStubStore(), clock)

	if err := a.Join(ctx, "a", "Ada"); err != nil {
		t.Fatal(err)
	}
	if err := a.SetTimerAutoReveal(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := a.StartTimer(ctx, 30); err != nil {
		t.Fatal(err)
	}

	clock.Advance(31 * time.Second)

	// Any traffic, even a no-op touch, applies the overdue expiry.
	if err := a.Touch(ctx); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	view, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if view.TimerEndTime != nil {
		t.Error("expired timer still set")
	}
	if !view.VotesRevealed {
		t.Error("timer expiry did not auto-reveal")
	}
}

func TestActorRejectsOffListTimer(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	a, _ := startTestActor(t, store, clockwork.NewFakeClock())

	if err := a.StartTimer(ctx, 45); err == nil {
		t.Fatal("45s timer accepted")
	}
	if store.saves != 0 {
		t.Errorf("rejected operation persisted %d times", store.saves)
	}
}

func TestActorLoadsExistingState(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()

	seed := NewState()
	seed.Join("a", "Ada")
	seed.SetStory("PD-1")
	if err := store.Save(ctx, "test-room", seed); err != nil {
		t.Fatal(err)
	}

	a, _ := startTestActor(t, store, clockwork.NewFakeClock())
	view, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if view.StoryTitle != "PD-1" || len(view.Participants) != 1 {
		t.Errorf("loaded view = %+v, want seeded state", view)
	}
}

func TestManagerSpawnsActorsLazily(t *testing.T) {
	m := NewManager(newStubStore(), clockwork.NewFakeClock())
	m.Start(context.Background())
	defer m.Stop()

	a1 := m.Room("r1")
	a2 := m.Room("r1")
	if a1 != a2 {
		t.Error("same room produced two actors")
	}
	m.Room("r2")

	if got := len(m.ActiveRooms()); got != 2 {
		t.Errorf("ActiveRooms = %d, want 2", got)
	}
}

func TestManagerCreateRoom(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	m := NewManager(store, clockwork.NewFakeClock())

	roomID, err := m.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(roomID) != 8 {
		t.Errorf("room ID %q, want 8 characters", roomID)
	}
	if _, err := store.Load(ctx, roomID); err != nil {
		t.Errorf("created room not persisted: %v", err)
	}
}
