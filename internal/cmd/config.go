package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, read from the environment after
// godotenv has loaded any .env file.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// RoomStore selects the aggregate store: "memory" or "postgres".
	RoomStore string `env:"ROOM_STORE" envDefault:"memory"`

	// DeckFile optionally points at a YAML file of extra voting decks.
	DeckFile string `env:"DECK_FILE"`

	// NATSURL enables the JetStream event mirror when set.
	NATSURL string `env:"NATS_URL"`

	// FlagServiceURL enables remote flag polling when set; without it the
	// hardcoded flag defaults apply.
	FlagServiceURL   string        `env:"FLAG_SERVICE_URL"`
	FlagPollInterval time.Duration `env:"FLAG_POLL_INTERVAL" envDefault:"30s"`

	Database DatabaseConfig `envPrefix:"DB_"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD" envDefault:"postgres"`
	Database string `env:"NAME" envDefault:"pointdeck"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
