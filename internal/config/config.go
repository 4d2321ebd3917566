package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"3008"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	CodeSize              int `env:"CODE_SIZE" envDefault:"16"`
	CodeExpirationMinutes int `env:"CODE_EXPIRATION_MINUTES" envDefault:"60"`
	RelayRetentionSeconds int `env:"RELAY_RETENTION_SECONDS" envDefault:"86400"`

	APNSKeyFile    string `env:"APNS_KEY_FILE"`
	APNSKeyID      string `env:"APNS_KEY_ID"`
	APNSTeamID     string `env:"APNS_TEAM_ID"`
	APNSBundleID   string `env:"APNS_BUNDLE_ID"`
	APNSProduction bool   `env:"APNS_PRODUCTION"`

	ProviderURL  string `env:"PROVIDER_URL"`
	MessagingURL string `env:"MESSAGING_URL"`
	SellingURL   string `env:"SELLING_URL"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) CodeExpiration() time.Duration {
	return time.Duration(c.CodeExpirationMinutes) * time.Minute
}

// RelayRetention is the replayable history window kept per recipient.
// A session whose lastMessageId has fallen out of this window is re-initialized
// rather than replayed.
func (c *Config) RelayRetention() time.Duration {
	return time.Duration(c.RelayRetentionSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.CodeSize < MinCodeSize || c.CodeSize > MaxCodeSize {
		return fmt.Errorf("CODE_SIZE must be between %d and %d", MinCodeSize, MaxCodeSize)
	}
	if c.CodeExpirationMinutes <= 0 {
		return fmt.Errorf("CODE_EXPIRATION_MINUTES must be positive")
	}
	if c.RelayRetentionSeconds <= 0 {
		return fmt.Errorf("RELAY_RETENTION_SECONDS must be positive")
	}

	if c.APNSKeyFile != "" {
		if c.APNSKeyID == "" || c.APNSTeamID == "" || c.APNSBundleID == "" {
			return fmt.Errorf("APNS_KEY_ID, APNS_TEAM_ID and APNS_BUNDLE_ID are required when APNS_KEY_FILE is set")
		}
	}

	if isProduction {
		if c.APNSKeyFile == "" {
			log.Warn().Msg("APNS_KEY_FILE is empty in production: push notifications will not be sent")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
