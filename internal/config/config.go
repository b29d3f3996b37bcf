// Package config loads the lockout service configuration from the environment,
// optional .env files and an optional YAML policy file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
)

// LogConfig selects and tunes the logging backend.
type LogConfig struct {
	// Backend is one of zap, zerolog, logrus, std.
	Backend string
	Level   string
	// Format is json or console.
	Format string
	// Env is production or development; it picks the zap preset.
	Env string
}

// Config is the full service configuration.
type Config struct {
	HTTPAddr        string
	Store           string
	RedisURL        string
	RedisPrefix     string
	SQLDSN          string
	Timezone        string
	CleanupInterval time.Duration
	Log             LogConfig

	PoliciesFile     string
	PrincipalHeader  string
	AdminToken       string
	AdminCORSOrigins []string

	// Policies are the shipped policies with the overrides of PoliciesFile applied.
	Policies map[string]ratelimiter.Policy
}

// Load reads .env files (existing variables win), then the environment, then the policy file.
// Missing .env files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        getEnv("LOCKOUT_HTTP_ADDR", ":8080"),
		Store:           strings.ToLower(getEnv("LOCKOUT_STORE", StoreMemory)),
		RedisURL:        getEnv("LOCKOUT_REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:     getEnv("LOCKOUT_REDIS_PREFIX", "lockout:"),
		SQLDSN:          os.Getenv("LOCKOUT_SQL_DSN"),
		Timezone:        getEnv("LOCKOUT_TIMEZONE", "UTC"),
		PoliciesFile:    os.Getenv("LOCKOUT_POLICIES_FILE"),
		PrincipalHeader: getEnv("LOCKOUT_PRINCIPAL_HEADER", "X-User-ID"),
		AdminToken:      os.Getenv("LOCKOUT_ADMIN_TOKEN"),
		Log: LogConfig{
			Backend: strings.ToLower(getEnv("LOCKOUT_LOG_BACKEND", "zap")),
			Level:   strings.ToLower(getEnv("LOCKOUT_LOG_LEVEL", "info")),
			Format:  strings.ToLower(getEnv("LOCKOUT_LOG_FORMAT", "json")),
			Env:     strings.ToLower(getEnv("LOCKOUT_ENV", "production")),
		},
	}

	var err error
	if cfg.CleanupInterval, err = getDuration("LOCKOUT_CLEANUP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	cfg.AdminCORSOrigins = splitList(os.Getenv("LOCKOUT_ADMIN_CORS_ORIGINS"))

	if cfg.SQLDSN == "" && cfg.Store == StoreSQLite {
		cfg.SQLDSN = "file:lockout.db?_txlock=immediate"
	}

	if cfg.Policies, err = LoadPolicies(cfg.PoliciesFile, ratelimiter.DefaultPolicies()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis:
	case StoreSQLite, StorePostgres, StoreMySQL:
		if c.SQLDSN == "" {
			return fmt.Errorf("LOCKOUT_SQL_DSN is required for store %q", c.Store)
		}
	default:
		return fmt.Errorf("unsupported store %q (supported: memory, redis, sqlite, postgres, mysql)", c.Store)
	}

	switch c.Log.Backend {
	case "zap", "zerolog", "logrus", "std":
	default:
		return fmt.Errorf("unsupported log backend %q (supported: zap, zerolog, logrus, std)", c.Log.Backend)
	}

	if c.CleanupInterval < 0 {
		return errors.New("LOCKOUT_CLEANUP_INTERVAL must not be negative")
	}
	if _, err := c.Calendar(); err != nil {
		return err
	}
	return nil
}

// Calendar returns the day-bucket calendar for the configured timezone.
func (c *Config) Calendar() (ratelimiter.Calendar, error) {
	return ratelimiter.NewCalendar(c.Timezone)
}

// loadDotEnv loads the given files, or .env in the working directory when none are given.
// Existing environment variables are NOT overwritten.
func loadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
