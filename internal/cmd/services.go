package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/admission"
	"github.com/pointdeck/pointdeck/internal/events"
	"github.com/pointdeck/pointdeck/internal/flags"
	"github.com/pointdeck/pointdeck/internal/gateway"
	"github.com/pointdeck/pointdeck/internal/room"
)

// Services holds the wired application graph.
type Services struct {
	Flags   *flags.Client
	Rooms   *room.Manager
	Gateway *gateway.Service
}

// setupServices wires the dependency chain: store, room manager,
// connection manager, admission control, flag client, and the optional
// event mirror. The returned cleanup tears everything down in reverse.
func setupServices(ctx context.Context, cfg Config) (*Services, func(), error) {
	clock := clockwork.NewRealClock()

	if cfg.DeckFile != "" {
		if err := room.LoadDecks(cfg.DeckFile); err != nil {
			return nil, nil, fmt.Errorf("load deck file: %w", err)
		}
		log.Info().Str("path", cfg.DeckFile).Msg("custom voting decks loaded")
	}

	store, closeStore, err := setupStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	flagClient := flags.NewClient(cfg.FlagServiceURL, cfg.FlagPollInterval, clock)
	go flagClient.Start(ctx)

	rooms := room.NewManager(store, clock)
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), rooms, flagClient, clock)

	// The connection manager is the primary broadcast sink; the JetStream
	// mirror rides alongside it when configured.
	broadcast := room.MultiBroadcaster{cm}

	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		jsCfg := events.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATSURL
		publisher, err = events.NewPublisher(jsCfg)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("setup event mirror: %w", err)
		}
		broadcast = append(broadcast, publisher)
	}

	rooms.SetBroadcaster(broadcast)
	rooms.Start(ctx)

	snap := flagClient.Current()
	limiter := admission.NewLimiter(clock, snap.RateLimitWindow, snap.RoomCreatesPerWindow)

	cleanup := func() {
		rooms.Stop()
		if publisher != nil {
			publisher.Close()
		}
		closeStore()
	}

	return &Services{
		Flags:   flagClient,
		Rooms:   rooms,
		Gateway: gateway.NewService(cm, rooms, limiter, flagClient),
	}, cleanup, nil
}
