package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrRoomNotFound is returned by a Store when no aggregate exists for a
// room ID.
var ErrRoomNotFound = errors.New("room not found")

// Store persists one aggregate per room, keyed by room ID.
type Store interface {
	Load(ctx context.Context, roomID string) (*State, error)
	Save(ctx context.Context, roomID string, state *State) error
}

// Broadcaster receives the rendered view after every persisted mutation.
// Implementations must tolerate individual delivery failures internally.
type Broadcaster interface {
	RoomUpdated(roomID string, view View)
}

// MultiBroadcaster fans a view out to several broadcasters.
type MultiBroadcaster []Broadcaster

func (mb MultiBroadcaster) RoomUpdated(roomID string, view View) {
	for _, b := range mb {
		b.RoomUpdated(roomID, view)
	}
}

// command is one unit of work on the actor's mailbox.
type command struct {
	fn     func(*State) error
	mutate bool
	reply  chan error
}

// Actor serializes all mutations for one room. At most one command is in
// flight at a time; the mailbox holds the rest in order, so two mutations
// for the same room never interleave.
type Actor struct {
	roomID    string
	store     Store
	broadcast Broadcaster
	clock     clockwork.Clock
	inbox     chan command

	// state is touched only from the run goroutine.
	state *State
}

func newActor(roomID string, store Store, broadcast Broadcaster, clock clockwork.Clock) *Actor {
	return &Actor{
		roomID:    roomID,
		store:     store,
		broadcast: broadcast,
		clock:     clock,
		inbox:     make(chan command, 64),
	}
}

// run drains the mailbox until the context ends. The aggregate is loaded
// once on startup; rooms are created lazily on first access.
func (a *Actor) run(ctx context.Context) {
	state, err := a.store.Load(ctx, a.roomID)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		state = NewState()
	case err != nil:
		log.Error().Err(err).Str("room_id", a.roomID).Msg("failed to load room state, starting fresh")
		state = NewState()
	}
	a.state = state

	log.Debug().Str("room_id", a.roomID).Msg("room actor started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("room_id", a.roomID).Msg("room actor stopped")
			return
		case cmd := <-a.inbox:
			a.process(ctx, cmd)
		}
	}
}

// process applies one command: lazy timer expiry, then the operation
// against a clone, then persist, swap, broadcast. The in-memory aggregate
// is replaced only after a successful save, so a failed persist never
// leaves a half-applied mutation visible or durable.
func (a *Actor) process(ctx context.Context, cmd command) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("room_id", a.roomID).Interface("panic", r).Msg("room operation panicked")
			cmd.reply <- fmt.Errorf("room operation panicked: %v", r)
		}
	}()

	next := a.state.Clone()
	changed := next.ExpireTimer(a.clock.Now())

	var opErr error
	if cmd.fn != nil {
		opErr = cmd.fn(next)
		if opErr == nil && cmd.mutate {
			changed = true
		}
	}

	if changed {
		if err := a.store.Save(ctx, a.roomID, next); err != nil {
			log.Error().Err(err).Str("room_id", a.roomID).Msg("failed to persist room state")
			cmd.reply <- fmt.Errorf("persist room state: %w", err)
			return
		}
		a.state = next
		a.broadcast.RoomUpdated(a.roomID, next.Render())
	}

	cmd.reply <- opErr
}

// submit enqueues a command and waits for the actor to process it.
func (a *Actor) submit(ctx context.Context, fn func(*State) error, mutate bool) error {
	cmd := command{fn: fn, mutate: mutate, reply: make(chan error, 1)}
	select {
	case a.inbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join upserts a participant with a cleared vote.
func (a *Actor) Join(ctx context.Context, userID, name string) error {
	return a.submit(ctx, func(s *State) error {
		s.Join(userID, name)
		return nil
	}, true)
}

// Vote records a vote; unknown participants are a silent no-op.
func (a *Actor) Vote(ctx context.Context, userID, value string) error {
	return a.submit(ctx, func(s *State) error {
		s.SetVote(userID, value)
		return nil
	}, true)
}

// Reveal exposes all votes.
func (a *Actor) Reveal(ctx context.Context) error {
	return a.submit(ctx, func(s *State) error {
		s.Reveal()
		return nil
	}, true)
}

// Reset starts a fresh round.
func (a *Actor) Reset(ctx context.Context) error {
	return a.submit(ctx, func(s *State) error {
		s.Reset()
		return nil
	}, true)
}

// Disconnect removes the participant entirely.
func (a *Actor) Disconnect(ctx context.Context, userID string) error {
	return a.submit(ctx, func(s *State) error {
		s.RemoveParticipant(userID)
		return nil
	}, true)
}

// StartTimer arms the round countdown; off-list durations are rejected.
func (a *Actor) StartTimer(ctx context.Context, durationSeconds int) error {
	return a.submit(ctx, func(s *State) error {
		return s.StartTimer(a.clock.Now(), durationSeconds)
	}, true)
}

// CancelTimer clears the round countdown.
func (a *Actor) CancelTimer(ctx context.Context) error {
	return a.submit(ctx, func(s *State) error {
		s.CancelTimer()
		return nil
	}, true)
}

// SetTimerAutoReveal toggles automatic reveal on timer expiry.
func (a *Actor) SetTimerAutoReveal(ctx context.Context, enabled bool) error {
	return a.submit(ctx, func(s *State) error {
		s.SetTimerAutoReveal(enabled)
		return nil
	}, true)
}

// SetStory sets the story title.
func (a *Actor) SetStory(ctx context.Context, title string) error {
	return a.submit(ctx, func(s *State) error {
		s.SetStory(title)
		return nil
	}, true)
}

// SetScale switches the voting deck.
func (a *Actor) SetScale(ctx context.Context, scale string) error {
	return a.submit(ctx, func(s *State) error {
		return s.SetScale(scale)
	}, true)
}

// SetAutoReveal toggles reveal-on-last-vote.
func (a *Actor) SetAutoReveal(ctx context.Context, enabled bool) error {
	return a.submit(ctx, func(s *State) error {
		s.SetAutoReveal(enabled)
		return nil
	}, true)
}

// Touch runs lazy timer expiry without any operation. The gateway calls
// it for traffic that carries no mutation, like heartbeat pongs.
func (a *Actor) Touch(ctx context.Context) error {
	return a.submit(ctx, nil, false)
}

// Snapshot returns the current rendered view without mutating anything.
func (a *Actor) Snapshot(ctx context.Context) (View, error) {
	var view View
	err := a.submit(ctx, func(s *State) error {
		view = s.Render()
		return nil
	}, false)
	return view, err
}
