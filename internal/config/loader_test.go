package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isolateConfigEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolateConfigEnv(t)

	cfg, err := LoadDefault()
	require.NoError(t, err)
	require.Equal(t, "all", cfg.Inbox.DefaultFolder)
	require.Equal(t, []string{"community", "greenroom"}, cfg.Inbox.ChannelFolders)
	require.Equal(t, "local", cfg.Realtime.Transport)
	require.Equal(t, filepath.Join(home, ".local", "share", "backlot", "backlot.db"), cfg.DatabasePath())
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	isolateConfigEnv(t)

	path := filepath.Join(t.TempDir(), "backlot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: warn
inbox:
  default_folder: personal
  channel_folders: [community]
realtime:
  transport: websocket
  url: ws://127.0.0.1:9000/rt
database:
  path: ~/inbox.db
`), 0644))

	t.Setenv("BACKLOT_LOGGING_LEVEL", "debug")
	t.Setenv("BACKLOT_INBOX_UNREAD_TTL", "5s")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "personal", cfg.Inbox.DefaultFolder)
	require.Equal(t, []string{"community"}, cfg.Inbox.ChannelFolders)
	require.Equal(t, 5*time.Second, cfg.Inbox.UnreadTTL)
	require.Equal(t, "websocket", cfg.Realtime.Transport)

	home, _ := os.UserHomeDir()
	require.Equal(t, filepath.Join(home, "inbox.db"), cfg.Database.Path)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	isolateConfigEnv(t)
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "websocket without url", mutate: func(c *Config) { c.Realtime.Transport = "websocket" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.Realtime.Transport = "carrier-pigeon" }, wantErr: true},
		{name: "no default folder", mutate: func(c *Config) { c.Inbox.DefaultFolder = "" }, wantErr: true},
		{name: "zero connections", mutate: func(c *Config) { c.Database.MaxConnections = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
