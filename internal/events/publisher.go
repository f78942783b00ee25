package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/room"
)

// JetStreamConfig holds configuration for the room event mirror stream.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultJetStreamConfig returns the default mirror stream configuration.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_EVENTS",
		SubjectPrefix: "room.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
	}
}

// Publisher mirrors room update broadcasts onto a JetStream stream for
// out-of-band consumers. It is observe-only: a publish failure never
// affects the websocket broadcast, and delivery is fire-and-forget.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

// envelope is the wire shape of a mirrored event.
type envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	RoomID    string          `json:"roomId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewPublisher connects to NATS and ensures the mirror stream exists.
func NewPublisher(cfg JetStreamConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{nc: nc, js: js, config: cfg}
	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     p.config.StreamName,
		Subjects: []string{p.config.SubjectPrefix + ".>"},
		MaxAge:   p.config.MaxAge,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return err
	}
	log.Info().Str("stream", p.config.StreamName).Msg("JetStream room event stream ready")
	return nil
}

// RoomUpdated implements room.Broadcaster by publishing the view onto the
// mirror stream.
func (p *Publisher) RoomUpdated(roomID string, view room.View) {
	payload, err := json.Marshal(view)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to marshal room view for mirror")
		return
	}
	data, err := json.Marshal(envelope{
		EventID:   uuid.New().String(),
		EventType: "RoomUpdated",
		RoomID:    roomID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to marshal mirror envelope")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, roomID)
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to mirror room event")
	}
}

// Close flushes pending publishes and closes the connection.
func (p *Publisher) Close() {
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(2 * time.Second):
		log.Warn().Msg("timed out waiting for pending mirror publishes")
	}
	p.nc.Close()
}
