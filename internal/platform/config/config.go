package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv                  string `env:"APP_ENV" default:"development"`
	Port                    string `env:"PORT" default:"8080"`
	AppURL                  string `env:"APP_URL" default:"http://localhost:8080"`
	IdentityURL             string `env:"IDENTITY_URL"`
	RedisURL                string `env:"REDIS_URL"`
	TabSecret               string `env:"TAB_SECRET"`
	CredentialEncryptionKey string `env:"CREDENTIAL_ENCRYPTION_KEY"`
	LogLevel                string `env:"LOG_LEVEL" default:"info"`
	LogFormat               string `env:"LOG_FORMAT" default:"text"`

	SignInRateLimit float64 `env:"SIGN_IN_RATE_LIMIT" default:"1"`
	SignInBurst     int     `env:"SIGN_IN_BURST" default:"5"`

	IdentityTimeout time.Duration `env:"IDENTITY_TIMEOUT" default:"10s"`
	TabIdleTimeout  time.Duration `env:"TAB_IDLE_TIMEOUT" default:"30m"`
	TabStorageTTL   time.Duration `env:"TAB_STORAGE_TTL" default:"12h"`
	QueryCacheTTL   time.Duration `env:"QUERY_CACHE_TTL" default:"30s"`
	TabCookieMaxAge time.Duration `env:"TAB_COOKIE_MAX_AGE" default:"168h"` // 7 days
}

// IdentityConfig configures the development identity service.
type IdentityConfig struct {
	Port      string `env:"DEV_IDENTITY_PORT" default:"8081"`
	Secret    string `env:"DEV_IDENTITY_SECRET"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := load(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadIdentity() (*IdentityConfig, error) {
	var cfg IdentityConfig
	if err := load(&cfg); err != nil {
		return nil, err
	}

	if len(cfg.Secret) < 32 {
		return nil, errors.New("DEV_IDENTITY_SECRET must be at least 32 characters")
	}

	return &cfg, nil
}

func load(cfg any) error {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	if err := env.Load(cfg, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

// IsProduction reports whether cookies and origins should be locked down.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func validate(cfg *Config) error {
	required := map[string]string{
		"IDENTITY_URL": cfg.IdentityURL,
		"TAB_SECRET":   cfg.TabSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if len(cfg.TabSecret) < 32 {
		return errors.New("TAB_SECRET must be at least 32 characters")
	}

	if cfg.IsProduction() && cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required in production")
	}

	if cfg.SignInRateLimit <= 0 || cfg.SignInBurst <= 0 {
		return errors.New("SIGN_IN_RATE_LIMIT and SIGN_IN_BURST must be positive")
	}

	if cfg.CredentialEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(cfg.CredentialEncryptionKey)
		if err != nil {
			return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
		}
	}

	return nil
}
