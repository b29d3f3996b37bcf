package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"LOCKOUT_HTTP_ADDR", "LOCKOUT_STORE", "LOCKOUT_REDIS_URL", "LOCKOUT_REDIS_PREFIX", "LOCKOUT_SQL_DSN",
	"LOCKOUT_TIMEZONE", "LOCKOUT_CLEANUP_INTERVAL", "LOCKOUT_LOG_BACKEND", "LOCKOUT_LOG_LEVEL",
	"LOCKOUT_LOG_FORMAT", "LOCKOUT_ENV", "LOCKOUT_POLICIES_FILE", "LOCKOUT_PRINCIPAL_HEADER",
	"LOCKOUT_ADMIN_TOKEN", "LOCKOUT_ADMIN_CORS_ORIGINS",
}

// clearEnv unsets every LOCKOUT_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "lockout:", cfg.RedisPrefix)
	assert.Equal(t, 10*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, "zap", cfg.Log.Backend)
	assert.Equal(t, "X-User-ID", cfg.PrincipalHeader)
	assert.Equal(t, ratelimiter.DefaultPolicies(), cfg.Policies)
	assert.Empty(t, cfg.AdminCORSOrigins)
}

func TestLoad_FromEnvAndDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOCKOUT_STORE=sqlite\nLOCKOUT_LOG_BACKEND=logrus\nLOCKOUT_ADMIN_TOKEN=from-file\n"), 0o600))

	t.Setenv("LOCKOUT_ADMIN_TOKEN", "from-env")
	t.Setenv("LOCKOUT_TIMEZONE", "UTC")
	t.Setenv("LOCKOUT_CLEANUP_INTERVAL", "30s")
	t.Setenv("LOCKOUT_ADMIN_CORS_ORIGINS", "https://a.example.com, https://b.example.com,")

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "file:lockout.db?_txlock=immediate", cfg.SQLDSN)
	assert.Equal(t, "logrus", cfg.Log.Backend)
	assert.Equal(t, "from-env", cfg.AdminToken, "the environment wins over .env")
	assert.Equal(t, 30*time.Second, cfg.CleanupInterval)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AdminCORSOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string][2]string{
		"store":    {"LOCKOUT_STORE", "cassandra"},
		"backend":  {"LOCKOUT_LOG_BACKEND", "printf"},
		"duration": {"LOCKOUT_CLEANUP_INTERVAL", "often"},
		"timezone": {"LOCKOUT_TIMEZONE", "Mars/Olympus"},
		"sql dsn":  {"LOCKOUT_STORE", "postgres"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestParsePolicies(t *testing.T) {
	doc := []byte(`
policies:
  - name: review
    max_attempts: 3
    window: 24h
    block_duration: 12h
  - name: newsletter
    max_attempts: 2
    window: 24h
    block_duration: 1h
`)
	policies, err := ParsePolicies(doc, ratelimiter.DefaultPolicies())
	require.NoError(t, err)

	assert.Equal(t, 3, policies[ratelimiter.PolicyReview].MaxAttempts)
	assert.Equal(t, 12*time.Hour, policies[ratelimiter.PolicyReview].BlockDuration)
	assert.Equal(t, ratelimiter.CommentPolicy, policies[ratelimiter.PolicyComment])
	assert.Equal(t, time.Hour, policies["newsletter"].BlockDuration)
	assert.Len(t, policies, 7)

	_, err = ParsePolicies([]byte("policies:\n  - name: broken\n    max_attempts: 0\n    window: 1h\n    block_duration: 1h\n"), nil)
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidPolicy)
}

func TestLoadPolicies_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policies:\n  - name: comment\n    max_attempts: 20\n    window: 24h\n    block_duration: 24h\n"), 0o600))

	policies, err := LoadPolicies(path, ratelimiter.DefaultPolicies())
	require.NoError(t, err)
	assert.Equal(t, 20, policies[ratelimiter.PolicyComment].MaxAttempts)

	_, err = LoadPolicies(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
