package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // PostgreSQL; empty falls back to SQLite
	SQLitePath  string
	RedisURL    string // optional; rate limiting disabled without it

	AdminKeyHash string // bcrypt hash of the admin API key

	// Onboarding bot
	CouponCode       string
	BotReplyDelay    time.Duration // cosmetic pause before synthetic replies
	AutoReplyEnabled bool

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		RedisURL:         os.Getenv("REDIS_URL"),
		AdminKeyHash:     os.Getenv("ADMIN_KEY_HASH"),
		CouponCode:       getEnv("COUPON_CODE", "WELCOME10"),
		AutoReplyEnabled: getEnv("AUTO_REPLY_ENABLED", "true") == "true",
	}

	cfg.BotReplyDelay = 800 * time.Millisecond
	if v := os.Getenv("BOT_REPLY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.BotReplyDelay = d
		}
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require a durable store and admin auth
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
			panic("DATABASE_URL or SQLITE_PATH is required in production")
		}
		if cfg.AdminKeyHash == "" {
			panic("ADMIN_KEY_HASH is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
