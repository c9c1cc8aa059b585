package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 15*time.Second, cfg.PresenceGrace)
	assert.Equal(t, 100, cfg.OutboxSize)
	assert.Equal(t, []string{"main", "music", "random"}, cfg.DefaultRooms)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lobby.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
grpc_addr: "127.0.0.1:6000"
presence_grace: 30s
default_rooms: [lounge]
log:
  level: debug
`), 0o600))
	t.Setenv("LOBBY_PRESENCE_GRACE", "1m")
	t.Setenv("LOBBY_LOG_FORMAT", "console")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.GRPCAddr)
	assert.Equal(t, time.Minute, cfg.PresenceGrace)
	assert.Equal(t, []string{"lounge"}, cfg.DefaultRooms)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("LOBBY_SECONDARY_BACKEND", "redis")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RedisAddr")

	t.Setenv("LOBBY_SECONDARY_BACKEND", "memcached")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SecondaryBackend")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
