package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendSQLite   = "sqlite"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"
)

type Config struct {
	Port                  int    `env:"PORT" envDefault:"8080"`
	StoreBackend          string `env:"STORE_BACKEND" envDefault:"postgres"`
	DatabaseURL           string `env:"DATABASE_URL"`
	SQLitePath            string `env:"SQLITE_PATH" envDefault:"pairing.db"`
	RedisURL              string `env:"REDIS_URL"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	PairingTTLSeconds     int    `env:"PAIRING_TTL_SECONDS" envDefault:"120"`
	PairingMaxTTLSeconds  int    `env:"PAIRING_MAX_TTL_SECONDS" envDefault:"600"`
	PairingGraceSeconds   int    `env:"PAIRING_GRACE_SECONDS" envDefault:"3600"`
	PublicBaseURL         string `env:"PUBLIC_BASE_URL" envDefault:""`
	ClaimRateLimitPerMin  int    `env:"CLAIM_RATE_LIMIT_PER_MIN" envDefault:"30"`
	CreateRateLimitPerMin int    `env:"CREATE_RATE_LIMIT_PER_MIN" envDefault:"10"`
	OTLPEndpoint          string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
}

func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLSeconds) * time.Second
}

func (c *Config) PairingMaxTTL() time.Duration {
	return time.Duration(c.PairingMaxTTLSeconds) * time.Second
}

func (c *Config) PairingGrace() time.Duration {
	return time.Duration(c.PairingGraceSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", c.StoreBackend)
		}
	case StoreBackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_BACKEND=%s", c.StoreBackend)
		}
	case StoreBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=%s", c.StoreBackend)
		}
	case StoreBackendMemory:
		if isProduction {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.PairingTTLSeconds <= 0 {
		return fmt.Errorf("PAIRING_TTL_SECONDS must be positive")
	}
	if c.PairingMaxTTLSeconds < c.PairingTTLSeconds {
		return fmt.Errorf("PAIRING_MAX_TTL_SECONDS must be at least PAIRING_TTL_SECONDS")
	}
	if c.PairingGraceSeconds < 0 {
		return fmt.Errorf("PAIRING_GRACE_SECONDS must not be negative")
	}

	if c.PublicBaseURL != "" && !strings.HasPrefix(c.PublicBaseURL, "http://") &&
		!strings.HasPrefix(c.PublicBaseURL, "https://") {
		return fmt.Errorf("PUBLIC_BASE_URL must start with http:// or https://")
	}

	if isProduction {
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: create and claim endpoints are not rate limited")
		} else if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &cfg, nil
}
