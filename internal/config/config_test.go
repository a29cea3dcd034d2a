package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CODESESSION_CONFIG", "CODESESSION_ADDR", "DATABASE_URL",
		"CODESESSION_ARCHIVE_DIR", "REDIS_URL", "CODESESSION_GRACE_PERIOD",
		"CODESESSION_IDLE_GRACE", "CODESESSION_QUEUE_WAIT",
		"CODESESSION_AUTOSAVE_INTERVAL", "CODESESSION_MAX_PARTICIPANTS",
		"CODESESSION_CHAT_TAIL", "CODESESSION_SEND_BUFFER",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8790", cfg.Addr)
	assert.Equal(t, "./data/sessions", cfg.ArchiveDir)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 30*time.Second, cfg.GracePeriod)
	assert.Equal(t, 60*time.Second, cfg.IdleGrace)
	assert.Equal(t, 5*time.Second, cfg.QueueWait)
	assert.Equal(t, 16, cfg.MaxParticipants)
	assert.Equal(t, 50, cfg.ChatTail)
	assert.Equal(t, 64, cfg.SendBuffer)
}

func TestLoadFromTOMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "codesession.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = ":9000"
redis_url = "redis://localhost:6379/2"
grace_period = "45s"
max_participants = 4
`), 0o644))
	t.Setenv("CODESESSION_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "redis://localhost:6379/2", cfg.RedisURL)
	assert.Equal(t, 45*time.Second, cfg.GracePeriod)
	assert.Equal(t, 4, cfg.MaxParticipants)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.IdleGrace)
	assert.Equal(t, 50, cfg.ChatTail)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "codesession.toml")
	require.NoError(t, os.WriteFile(path, []byte(`addr = ":9000"`), 0o644))
	t.Setenv("CODESESSION_CONFIG", path)
	t.Setenv("CODESESSION_ADDR", ":9001")
	t.Setenv("CODESESSION_GRACE_PERIOD", "90s")
	t.Setenv("CODESESSION_MAX_PARTICIPANTS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.Addr)
	assert.Equal(t, 90*time.Second, cfg.GracePeriod)
	assert.Equal(t, 8, cfg.MaxParticipants)
}

func TestLoadBadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODESESSION_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	_, err := Load()
	require.Error(t, err)
}

func TestBadEnvValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODESESSION_GRACE_PERIOD", "not-a-duration")
	t.Setenv("CODESESSION_MAX_PARTICIPANTS", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.GracePeriod)
	assert.Equal(t, 16, cfg.MaxParticipants)
}
