package room

import (
	"sort"
	"time"
)

// ParticipantView is one participant as broadcast to clients. Until votes
// are revealed only HasVoted is populated; the vote value itself stays
// server-side.
type ParticipantView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Vote     *string `json:"vote,omitempty"`
	HasVoted bool    `json:"hasVoted"`
}

// View is the full room snapshot carried by an update broadcast.
type View struct {
	Participants    []ParticipantView `json:"participants"`
	VotesRevealed   bool              `json:"votesRevealed"`
	StoryTitle      string            `json:"storyTitle"`
	VotingScale     string            `json:"votingScale"`
	Deck            []string          `json:"deck,omitempty"`
	AutoReveal      bool              `json:"autoReveal"`
	TimerEndTime    *time.Time        `json:"timerEndTime"`
	TimerAutoReveal bool              `json:"timerAutoReveal"`
}

// Render builds the broadcast view: participants as an ordered list
// reconstructed from the map (sorted by ID so every client sees the same
// order), with votes masked while the round is open.
func (s *State) Render() View {
	ids := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	participants := make([]ParticipantView, 0, len(ids))
	for _, id := range ids {
		p := s.Participants[id]
		pv := ParticipantView{
			ID:       id,
			Name:     p.Name,
			HasVoted: p.Vote != nil,
		}
		if s.VotesRevealed && p.Vote != nil {
			v := *p.Vote
			pv.Vote = &v
		}
		participants = append(participants, pv)
	}

	view := View{
		Participants:    participants,
		VotesRevealed:   s.VotesRevealed,
		StoryTitle:      s.StoryTitle,
		VotingScale:     s.VotingScale,
		Deck:            DeckCards(s.VotingScale),
		AutoReveal:      s.AutoReveal,
		TimerAutoReveal: s.TimerAutoReveal,
	}
	if s.TimerEndTime != nil {
		t := *s.TimerEndTime
		view.TimerEndTime = &t
	}
	return view
}
