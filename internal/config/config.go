// Package config loads server settings from the environment, reading a .env
// file first when one is present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/metropoly-server/internal/engine"
)

type Config struct {
	Port            string        `env:"PORT" envDefault:"3001"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"*"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	RoomIdleTTL     time.Duration `env:"ROOM_IDLE_TTL" envDefault:"0s"`
	WSWriteTimeout  time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	WSPingPeriod    time.Duration `env:"WS_PING_PERIOD" envDefault:"25s"`
	WSReadLimit     int64         `env:"WS_READ_LIMIT" envDefault:"65536"`
	OutboxSize      int           `env:"OUTBOX_SIZE" envDefault:"32"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Game            GameRules
}

// GameRules are the room rule switches; all off by default.
type GameRules struct {
	UniqueTokens         bool     `env:"UNIQUE_TOKENS"`
	EnforcePickOrder     bool     `env:"ENFORCE_PICK_ORDER"`
	StartRequiresReady   bool     `env:"START_REQUIRES_READY"`
	TrustNextPlayerIndex bool     `env:"TRUST_NEXT_PLAYER_INDEX"`
	TokenSet             []string `env:"TOKEN_SET"`
}

// Load reads the named env files (".env" when none are given), then the
// process environment. Missing files are not an error; variables already set
// in the environment win over the files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return FromEnv(env.ToMap(os.Environ()))
}

// FromEnv builds a Config from environ. Blank values count as unset.
func FromEnv(environ map[string]string) (Config, error) {
	vars := make(map[string]string, len(environ))
	for k, v := range environ {
		if v = strings.TrimSpace(v); v != "" {
			vars[k] = v
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.AllowedOrigins = cleanList(cfg.AllowedOrigins)
	cfg.Game.TokenSet = cleanList(cfg.Game.TokenSet)
	return cfg, cfg.validate()
}

func (c Config) Addr() string { return ":" + c.Port }

func (c Config) Rules() engine.Rules {
	return engine.Rules{
		UniqueTokens:         c.Game.UniqueTokens,
		EnforcePickOrder:     c.Game.EnforcePickOrder,
		StartRequiresReady:   c.Game.StartRequiresReady,
		TrustNextPlayerIndex: c.Game.TrustNextPlayerIndex,
		TokenSet:             c.Game.TokenSet,
	}
}

func (c Config) validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("PORT required")
	case c.LogFormat != "json" && c.LogFormat != "console":
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	case c.RoomIdleTTL < 0:
		return fmt.Errorf("ROOM_IDLE_TTL must not be negative")
	case c.WSWriteTimeout <= 0:
		return fmt.Errorf("positive WS_WRITE_TIMEOUT required")
	case c.WSPingPeriod <= 0:
		return fmt.Errorf("positive WS_PING_PERIOD required")
	case c.WSReadLimit <= 0:
		return fmt.Errorf("positive WS_READ_LIMIT required")
	case c.OutboxSize <= 0:
		return fmt.Errorf("positive OUTBOX_SIZE required")
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("positive SHUTDOWN_TIMEOUT required")
	}
	return nil
}

// cleanList trims items and drops empty ones; nil when nothing is left.
func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
