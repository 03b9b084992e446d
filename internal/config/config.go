// Package config handles Backlot configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for Backlot.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings for the reference backend
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Inbox view-model settings
	Inbox InboxConfig `yaml:"inbox" mapstructure:"inbox"`

	// Realtime transport settings
	Realtime RealtimeConfig `yaml:"realtime" mapstructure:"realtime"`
}

// GlobalConfig contains global Backlot settings.
type GlobalConfig struct {
	// DataDir is where Backlot stores its data (default: ~/.local/share/backlot).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/backlot).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console, auto).
	Format string `yaml:"format" mapstructure:"format"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// InboxConfig contains inbox view-model settings.
type InboxConfig struct {
	// DefaultFolder is opened when the deep link carries no folder.
	DefaultFolder string `yaml:"default_folder" mapstructure:"default_folder"`

	// ChannelFolders lists the folders that host channels besides "all".
	ChannelFolders []string `yaml:"channel_folders" mapstructure:"channel_folders"`

	// UnreadTTL bounds how long folder unread counts are served from cache.
	UnreadTTL time.Duration `yaml:"unread_ttl" mapstructure:"unread_ttl"`

	// FetchTimeout bounds each source fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
}

// RealtimeConfig contains realtime transport settings.
type RealtimeConfig struct {
	// Transport selects the push transport (local, websocket).
	Transport string `yaml:"transport" mapstructure:"transport"`

	// URL is the websocket endpoint.
	URL string `yaml:"url" mapstructure:"url"`

	// Token is sent as a bearer token when dialing.
	Token string `yaml:"token" mapstructure:"token"`

	// ReconnectInterval is the delay between websocket reconnect attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`

	// DialTimeout bounds a single websocket dial.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "backlot"),
			ConfigDir: filepath.Join(homeDir, ".config", "backlot"),
		},
		Database: DatabaseConfig{
			Path:           "", // Will be set to DataDir/backlot.db
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Inbox: InboxConfig{
			DefaultFolder:  "all",
			ChannelFolders: []string{"community", "greenroom"},
			UnreadTTL:      30 * time.Second,
			FetchTimeout:   10 * time.Second,
		},
		Realtime: RealtimeConfig{
			Transport:         "local",
			ReconnectInterval: 2 * time.Second,
			DialTimeout:       5 * time.Second,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}
	if c.Inbox.DefaultFolder == "" {
		return fmt.Errorf("inbox.default_folder is required")
	}
	if c.Inbox.FetchTimeout <= 0 {
		return fmt.Errorf("inbox.fetch_timeout must be positive")
	}

	switch c.Realtime.Transport {
	case "local":
	case "websocket":
		if c.Realtime.URL == "" {
			return fmt.Errorf("realtime.url is required for the websocket transport")
		}
		if c.Realtime.ReconnectInterval < 100*time.Millisecond {
			return fmt.Errorf("realtime.reconnect_interval must be at least 100ms")
		}
	default:
		return fmt.Errorf("realtime.transport must be one of local, websocket")
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Global.DataDir, c.Global.ConfigDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "backlot.db")
}

// ContextPath returns the CLI context file path.
func (c *Config) ContextPath() string {
	return filepath.Join(c.Global.ConfigDir, "context.yaml")
}
