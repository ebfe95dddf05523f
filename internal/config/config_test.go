package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

// unsetenv clears key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(KeyEnv, testKey)
	cfg, err := Load(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.True(t, cfg.DB.Prepare)
	assert.Equal(t, 100*time.Millisecond, cfg.DB.SlowThreshold)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 300*time.Second, cfg.Token.Expire)
	assert.Equal(t, 60*time.Second, cfg.Token.SensitiveExpire)
	assert.Equal(t, 120*time.Second, cfg.Token.ReplayWindow)
	assert.Equal(t, "X-API-Token", cfg.Token.Header)
	assert.Contains(t, cfg.Token.Whitelist, "/auth/login")
	assert.Equal(t, 7200*time.Second, cfg.CSRF.MaxAge)
	assert.True(t, cfg.CSRF.Stateless)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.KeyGenerated)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(KeyEnv, testKey)
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_PREPARE", "false")
	t.Setenv("DB_SLOW_THRESHOLD", "250ms")
	t.Setenv("CACHE_DRIVER", "redis")
	t.Setenv("TOKEN_EXPIRE", "10m")
	t.Setenv("TOKEN_REPLAY_PROTECTION", "true")
	t.Setenv("TOKEN_WHITELIST", "/health, ^/public/")
	t.Setenv("CSRF_STATELESS", "false")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "mysql", cfg.DB.Driver)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 3307, cfg.DB.Port)
	assert.False(t, cfg.DB.Prepare)
	assert.Equal(t, 250*time.Millisecond, cfg.DB.SlowThreshold)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Token.Expire)
	assert.True(t, cfg.Token.ReplayProtection)
	assert.Equal(t, []string{"/health", "^/public/"}, cfg.Token.Whitelist)
	assert.False(t, cfg.CSRF.Stateless)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadReadsEnvFile(t *testing.T) {
	unsetenv(t, KeyEnv)
	unsetenv(t, "DB_NAME")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_KEY="+testKey+"\nDB_NAME=from-file.db\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testKey, cfg.AppKey)
	assert.Equal(t, "from-file.db", cfg.DB.Name)
}

func TestLoadGeneratesAndSavesKey(t *testing.T) {
	unsetenv(t, KeyEnv)
	path := filepath.Join(t.TempDir(), ".env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.KeyGenerated)
	assert.GreaterOrEqual(t, len(cfg.AppKey), 32)

	saved, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.AppKey, saved[KeyEnv])
	assert.Equal(t, "8080", saved["PORT"])
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv(KeyEnv, testKey)
	t.Setenv("PORT", "70000")
	_, err := Load(filepath.Join(t.TempDir(), ".env"))
	assert.Error(t, err)
}

func TestSaveKeyKeepsExistingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_DRIVER=postgres\nAPP_KEY=old\n"), 0600))

	require.NoError(t, SaveKey(path, "new-key"))

	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", env["DB_DRIVER"])
	assert.Equal(t, "new-key", env[KeyEnv])
}
