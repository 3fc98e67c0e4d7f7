package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-chat/internal/store"
)

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(envConfigPath, "")

	path, explicit, err := resolveConfigPath(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultConfigPath, path)
	assert.False(t, explicit)

	t.Setenv(envConfigPath, "/etc/chat/env.yaml")
	path, explicit, err = resolveConfigPath(nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/chat/env.yaml", path)
	assert.True(t, explicit)

	path, _, err = resolveConfigPath([]string{"--config", "a.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "a.yaml", path)

	path, _, err = resolveConfigPath([]string{"-v", "--config=b.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "b.yaml", path)

	_, _, err = resolveConfigPath([]string{"--config"})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Server.MaxSessions)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, uint32(16<<20), cfg.Codec.MaxFrameSize)
	assert.Equal(t, store.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, store.DefaultBcryptCost, cfg.Store.BcryptCost)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	content := `
server:
  addr: 127.0.0.1:6000
  max_sessions: 8
  ws:
    addr: 127.0.0.1:6001
codec:
  serializer: json
  compression: true
  max_frame_size: 1MB
store:
  driver: SQLite
  dsn: chat.db
logging:
  router:
    level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(envConfigPath, "")
	t.Setenv("CHAT_SERVER_ADDR", "127.0.0.1:7000")

	cfg, raw, err := LoadConfig([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, path, raw.ConfigFileUsed())

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Server.MaxSessions)
	assert.Equal(t, "127.0.0.1:6001", cfg.Server.WSAddr)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, "json", cfg.Codec.Serializer)
	assert.True(t, cfg.Codec.Compression)
	assert.Equal(t, uint32(1<<20), cfg.Codec.MaxFrameSize)
	assert.Equal(t, store.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "chat.db", cfg.Store.DSN)
	assert.ElementsMatch(t, []string{"router"}, raw.SubKeys("logging"))
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	t.Setenv(envConfigPath, "")
	_, _, err := LoadConfig([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv(envConfigPath, "")
	t.Setenv("CHAT_SERVER_MAX_SESSIONS", "0")
	_, _, err := LoadConfig(nil)
	assert.ErrorContains(t, err, "max_sessions")
}
