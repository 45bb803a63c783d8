// Package config defines runtime configuration for the relay service, loaded
// from environment variables with sensible defaults and validation.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate
// limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	DBPath         string
	RedisAddr      string
	SessionTTL     time.Duration
	SecureCookies  bool
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Port:   ":8080",
		DBPath: "relay.db",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		SessionTTL:     24 * time.Hour,
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// FromEnv returns a Config loaded from environment variables, falling back
// to defaults for anything unset or unparseable.
func FromEnv() *Config {
	cfg := Default()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if hours := os.Getenv("SESSION_TTL_HOURS"); hours != "" {
		if parsed, err := strconv.Atoi(hours); err == nil && parsed > 0 {
			cfg.SessionTTL = time.Duration(parsed) * time.Hour
		}
	}
	cfg.SecureCookies = os.Getenv("SECURE_COOKIES") == "true"
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		if size, err := strconv.ParseInt(maxSize, 10, 64); err == nil && size > 0 {
			cfg.MaxMessageSize = size
		}
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if parsed, err := strconv.Atoi(burst); err == nil && parsed > 0 {
			cfg.RateLimit.Burst = parsed
		}
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		if seconds, err := strconv.Atoi(interval); err == nil && seconds > 0 {
			cfg.RateLimit.RefillInterval = time.Duration(seconds) * time.Second
		}
	}

	return cfg.Sanitize()
}

// Sanitize fills in defaults for any zero-valued setting and returns the
// receiver for chaining.
func (c *Config) Sanitize() *Config {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "relay.db"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	return c
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
