package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/room"
)

// PostgresStore persists one JSONB record per room.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the rooms table
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	const ddl = `
		CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			state      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure rooms table: %w", err)
	}

	log.Info().Msg("connected to Postgres room store")
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Load(ctx context.Context, roomID string) (*room.State, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT state FROM rooms WHERE id = $1`, roomID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, room.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}

	var state room.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	if state.Participants == nil {
		state.Participants = make(map[string]room.Participant)
	}
	return &state, nil
}

func (p *PostgresStore) Save(ctx context.Context, roomID string, state *room.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", roomID, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO rooms (id, state, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		roomID, raw)
	if err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}
