package room

import (
	"fmt"
	"time"
)

// TimerDurations is the allow-list of round timer lengths in seconds.
var TimerDurations = map[int]bool{
	30:  true,
	60:  true,
	120: true,
	300: true,
}

// Participant is one member of a room. Vote is nil until the participant
// votes in the current round.
type Participant struct {
	Name string  `json:"name"`
	Vote *string `json:"vote"`
}

// State is the durable per-room aggregate. It is owned exclusively by the
// room's actor; nothing outside the actor mutates it.
type State struct {
	Participants    map[string]Participant `json:"participants"`
	VotesRevealed   bool                   `json:"votesRevealed"`
	StoryTitle      string                 `json:"storyTitle"`
	VotingScale     string                 `json:"votingScale"`
	AutoReveal      bool                   `json:"autoReveal"`
	TimerEndTime    *time.Time             `json:"timerEndTime"`
	TimerAutoReveal bool                   `json:"timerAutoReveal"`
}

// NewState returns a room with defaults, created lazily on first access.
func NewState() *State {
	return &State{
		Participants: make(map[string]Participant),
		VotingScale:  DefaultScale,
	}
}

// Clone deep-copies the aggregate. Mutations operate on a clone so a
// failed persist never leaves a half-applied state behind.
func (s *State) Clone() *State {
	next := *s
	next.Participants = make(map[string]Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp := p
		if p.Vote != nil {
			v := *p.Vote
			cp.Vote = &v
		}
		next.Participants[id] = cp
	}
	if s.TimerEndTime != nil {
		t := *s.TimerEndTime
		next.TimerEndTime = &t
	}
	return &next
}

// Join upserts a participant with a cleared vote. An empty name gets a
// generated guest label.
func (s *State) Join(userID, name string) {
	if name == "" {
		name = guestName(userID)
	}
	s.Participants[userID] = Participant{Name: name}
}

// SetVote records a vote for an existing participant. Unknown participant
// IDs are a no-op, not an error. Votes are read-only once revealed. When
// auto-reveal is on and every participant has voted, the round reveals
// itself.
func (s *State) SetVote(userID, value string) {
	if s.VotesRevealed {
		return
	}
	p, ok := s.Participants[userID]
	if !ok {
		return
	}
	p.Vote = &value
	s.Participants[userID] = p

	if s.AutoReveal && s.allVoted() {
		s.Reveal()
	}
}

func (s *State) allVoted() bool {
	if len(s.Participants) == 0 {
		return false
	}
	for _, p := range s.Participants {
		if p.Vote == nil {
			return false
		}
	}
	return true
}

// Reveal exposes all votes. Idempotent. A manual reveal also clears the
// round timer.
func (s *State) Reveal() {
	s.VotesRevealed = true
	s.TimerEndTime = nil
}

// Reset starts a fresh round: votes cleared, reveal state cleared, timer
// cleared. The timerAutoReveal setting survives.
func (s *State) Reset() {
	s.VotesRevealed = false
	s.TimerEndTime = nil
	for id, p := range s.Participants {
		p.Vote = nil
		s.Participants[id] = p
	}
}

// RemoveParticipant drops the participant entirely.
func (s *State) RemoveParticipant(userID string) {
	delete(s.Participants, userID)
}

// SetStory sets the story title under vote.
func (s *State) SetStory(title string) {
	s.StoryTitle = title
}

// SetScale switches the voting deck. Old votes are meaningless on the new
// deck, so the round restarts and the timer clears.
func (s *State) SetScale(scale string) error {
	if !KnownScale(scale) {
		return fmt.Errorf("unknown voting scale %q", scale)
	}
	s.VotingScale = scale
	s.Reset()
	return nil
}

// SetAutoReveal toggles reveal-on-last-vote.
func (s *State) SetAutoReveal(enabled bool) {
	s.AutoReveal = enabled
}

// StartTimer arms the round countdown. Durations off the allow-list are
// rejected.
func (s *State) StartTimer(now time.Time, durationSeconds int) error {
	if !TimerDurations[durationSeconds] {
		return fmt.Errorf("timer duration %ds not allowed", durationSeconds)
	}
	end := now.Add(time.Duration(durationSeconds) * time.Second)
	s.TimerEndTime = &end
	return nil
}

// CancelTimer clears the round countdown.
func (s *State) CancelTimer() {
	s.TimerEndTime = nil
}

// SetTimerAutoReveal toggles automatic reveal on timer expiry.
func (s *State) SetTimerAutoReveal(enabled bool) {
	s.TimerAutoReveal = enabled
}

// ExpireTimer applies lazy timer expiry: if the deadline has passed the
// timer clears, and with timerAutoReveal on an unrevealed round reveals.
// Returns whether anything changed. There is no background clock; this
// runs on every inbound message, trading timer precision for not keeping
// a per-room wakeup alive.
func (s *State) ExpireTimer(now time.Time) bool {
	if s.TimerEndTime == nil || now.Before(*s.TimerEndTime) {
		return false
	}
	s.TimerEndTime = nil
	if s.TimerAutoReveal && !s.VotesRevealed {
		s.VotesRevealed = true
	}
	return true
}

func guestName(userID string) string {
	tail := userID
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "Guest " + tail
}
