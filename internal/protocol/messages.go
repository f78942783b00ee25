package protocol

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Kind identifies a wire message variant.
type Kind string

const (
	KindAuth               Kind = "auth"
	KindJoin               Kind = "join"
	KindVote               Kind = "vote"
	KindReveal             Kind = "reveal"
	KindReset              Kind = "reset"
	KindPing               Kind = "ping"
	KindPong               Kind = "pong"
	KindStartTimer         Kind = "startTimer"
	KindCancelTimer        Kind = "cancelTimer"
	KindSetTimerAutoReveal Kind = "setTimerAutoReveal"
	KindSetStory           Kind = "setStory"
	KindSetScale           Kind = "setScale"
	KindSetAutoReveal      Kind = "setAutoReveal"
	KindUpdate             Kind = "update"
)

// DefaultMaxMessageSize is the inbound frame size cap in bytes.
const DefaultMaxMessageSize = 10 * 1024

// Close reasons sent to the peer when a frame is rejected. These are
// machine-checkable; clients switch on them.
const (
	ReasonInvalidType     = "invalid type"
	ReasonInvalidFormat   = "invalid format"
	ReasonTooLarge        = "too large"
	ReasonUnauthenticated = "unauthenticated"
)

// Error is a protocol violation that terminates the offending connection.
// Reason is the close reason put on the wire.
type Error struct {
	Reason string
	detail string
}

func (e *Error) Error() string {
	if e.detail == "" {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %s", e.Reason, e.detail)
}

func errInvalidFormat(detail string) *Error {
	return &Error{Reason: ReasonInvalidFormat, detail: detail}
}

// Message is the closed set of inbound wire messages. Exactly the types in
// this package implement it.
type Message interface {
	Kind() Kind
}

// Auth binds the connection to a participant identity. It is the only
// message besides Ping accepted before authentication.
type Auth struct {
	UserID string `json:"userId"`
}

// Join adds the authenticated participant to the room.
type Join struct {
	Name string `json:"name"`
}

// Vote records the participant's current vote. The value may arrive as a
// JSON string or number; it is normalized to its string form.
type Vote struct {
	Value string
}

// Reveal exposes all votes.
type Reveal struct{}

// Reset clears votes, reveal state, and the round timer.
type Reset struct{}

// Ping requests a Pong echo carrying the same ID. Flows in both
// directions: the server heartbeats with it, and clients may send their
// own to sample round-trip time.
type Ping struct {
	ID string `json:"id"`
}

// Pong answers a Ping.
type Pong struct {
	ID string `json:"id"`
}

// StartTimer starts the round countdown. Duration must be on the room's
// allow-list.
type StartTimer struct {
	DurationSeconds int `json:"durationSeconds"`
}

// CancelTimer clears the round countdown.
type CancelTimer struct{}

// SetTimerAutoReveal toggles automatic reveal on timer expiry.
type SetTimerAutoReveal struct {
	Enabled bool `json:"enabled"`
}

// SetStory sets the story title under vote.
type SetStory struct {
	Title string `json:"title"`
}

// SetScale switches the room's voting deck.
type SetScale struct {
	Scale string `json:"scale"`
}

// SetAutoReveal toggles reveal-on-last-vote.
type SetAutoReveal struct {
	Enabled bool `json:"enabled"`
}

func (Auth) Kind() Kind               { return KindAuth }
func (Join) Kind() Kind               { return KindJoin }
func (Vote) Kind() Kind               { return KindVote }
func (Reveal) Kind() Kind             { return KindReveal }
func (Reset) Kind() Kind              { return KindReset }
func (Ping) Kind() Kind               { return KindPing }
func (Pong) Kind() Kind               { return KindPong }
func (StartTimer) Kind() Kind         { return KindStartTimer }
func (CancelTimer) Kind() Kind        { return KindCancelTimer }
func (SetTimerAutoReveal) Kind() Kind { return KindSetTimerAutoReveal }
func (SetStory) Kind() Kind           { return KindSetStory }
func (SetScale) Kind() Kind           { return KindSetScale }
func (SetAutoReveal) Kind() Kind      { return KindSetAutoReveal }

// envelope is the first-pass decode used to dispatch on the type tag.
type envelope struct {
	Type Kind `json:"type"`
}

// voteWire carries the raw vote value so string and number forms can both
// be accepted.
type voteWire struct {
	Vote json.RawMessage `json:"vote"`
}

// Decode validates and decodes one inbound text frame. maxSize <= 0 means
// DefaultMaxMessageSize. Every returned error is a *Error whose Reason is
// suitable as a close reason.
func Decode(data []byte, maxSize int) (Message, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	if len(data) > maxSize {
		return nil, &Error{Reason: ReasonTooLarge, detail: fmt.Sprintf("%d bytes", len(data))}
	}
	if !utf8.Valid(data) {
		return nil, errInvalidFormat("not valid UTF-8")
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errInvalidFormat(err.Error())
	}

	switch env.Type {
	case KindAuth:
		var m Auth
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		if m.UserID == "" {
			return nil, errInvalidFormat("auth requires userId")
		}
		return m, nil
	case KindJoin:
		var m Join
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		return m, nil
	case KindVote:
		var w voteWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		v, err := normalizeVote(w.Vote)
		if err != nil {
			return nil, err
		}
		return Vote{Value: v}, nil
	case KindReveal:
		return Reveal{}, nil
	case KindReset:
		return Reset{}, nil
	case KindPing:
		var m Ping
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		return m, nil
	case KindPong:
		var m Pong
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		return m, nil
	case KindStartTimer:
		var m StartTimer
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		return m, nil
	case KindCancelTimer:
		return CancelTimer{}, nil
	case KindSetTimerAutoReveal:
		var m SetTimerAutoReveal
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		return m, nil
	case KindSetStory:
		var m SetStory
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		return m, nil
	case KindSetScale:
		var m SetScale
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		return m, nil
	case KindSetAutoReveal:
		var m SetAutoReveal
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errInvalidFormat(err.Error())
		}
		return m, nil
	default:
		return nil, &Error{Reason: ReasonInvalidType, detail: string(env.Type)}
	}
}

// normalizeVote accepts a JSON string or number and returns its string
// form. null and absent clear nothing here; an explicit null vote is
// rejected since retraction goes through reset.
func normalizeVote(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errInvalidFormat("vote requires a value")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errInvalidFormat("vote must be a string or number")
}

// Update is the outbound state broadcast. Payload is the room state view
// rendered by the room package.
type Update struct {
	Type    Kind `json:"type"`
	Payload any  `json:"payload"`
}

// NewUpdate wraps a state view for broadcast.
func NewUpdate(payload any) Update {
	return Update{Type: KindUpdate, Payload: payload}
}

// outbound is the generic tagged frame for non-update server sends.
type outbound struct {
	Type Kind   `json:"type"`
	ID   string `json:"id,omitempty"`
}

// EncodePing renders a ping frame with the given correlation ID.
func EncodePing(id string) ([]byte, error) {
	return json.Marshal(outbound{Type: KindPing, ID: id})
}

// EncodePong renders a pong frame echoing the given correlation ID.
func EncodePong(id string) ([]byte, error) {
	return json.Marshal(outbound{Type: KindPong, ID: id})
}

// Encode marshals an inbound-style message with its type tag, used by the
// client SDK when sending.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Auth:
		return json.Marshal(struct {
			Type   Kind   `json:"type"`
			UserID string `json:"userId"`
		}{KindAuth, v.UserID})
	case Join:
		return json.Marshal(struct {
			Type Kind   `json:"type"`
			Name string `json:"name,omitempty"`
		}{KindJoin, v.Name})
	case Vote:
		return json.Marshal(struct {
			Type Kind   `json:"type"`
			Vote string `json:"vote"`
		}{KindVote, v.Value})
	case Reveal:
		return json.Marshal(envelope{KindReveal})
	case Reset:
		return json.Marshal(envelope{KindReset})
	case Ping:
		return EncodePing(v.ID)
	case Pong:
		return EncodePong(v.ID)
	case StartTimer:
		return json.Marshal(struct {
			Type            Kind `json:"type"`
			DurationSeconds int  `json:"durationSeconds"`
		}{KindStartTimer, v.DurationSeconds})
	case CancelTimer:
		return json.Marshal(envelope{KindCancelTimer})
	case SetTimerAutoReveal:
		return json.Marshal(struct {
			Type    Kind `json:"type"`
			Enabled bool `json:"enabled"`
		}{KindSetTimerAutoReveal, v.Enabled})
	case SetStory:
		return json.Marshal(struct {
			Type  Kind   `json:"type"`
			Title string `json:"title"`
		}{KindSetStory, v.Title})
	case SetScale:
		return json.Marshal(struct {
			Type  Kind   `json:"type"`
			Scale string `json:"scale"`
		}{KindSetScale, v.Scale})
	case SetAutoReveal:
		return json.Marshal(struct {
			Type    Kind `json:"type"`
			Enabled bool `json:"enabled"`
		}{KindSetAutoReveal, v.Enabled})
	default:
		return nil, fmt.Errorf("encode: unknown message type %T", m)
	}
}
