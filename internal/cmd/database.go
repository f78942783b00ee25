package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/room"
	"github.com/pointdeck/pointdeck/internal/storage"
)

// setupStore builds the room aggregate store selected by configuration.
// The returned cleanup releases any backing resources.
func setupStore(ctx context.Context, cfg Config) (room.Store, func(), error) {
	switch cfg.RoomStore {
	case "memory":
		log.Info().Msg("using in-memory room store")
		return storage.NewMemoryStore(), func() {}, nil

	case "postgres":
		store, err := storage.NewPostgresStore(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("setup postgres store: %w", err)
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown room store %q", cfg.RoomStore)
	}
}
