package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL  string `env:"DATABASE_URL"` // empty keeps games in memory
	DBMaxConns   int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev       bool   `env:"LOG_DEV" envDefault:"false"`
	SessionInbox int    `env:"SESSION_INBOX" envDefault:"64"`
}

// Load reads the optional env files, then the process environment. Values
// already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.SessionInbox < 1 {
		return nil, fmt.Errorf("SESSION_INBOX must be positive, got %d", cfg.SessionInbox)
	}
	return &cfg, nil
}
