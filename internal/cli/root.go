// Package cli implements the backlot command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/backlot/internal/config"
	"github.com/tOgg1/backlot/internal/db"
	"github.com/tOgg1/backlot/internal/logging"
)

var (
	cfgFile        string
	jsonOutput     bool
	jsonlOutput    bool
	quietOutput    bool
	verboseOutput  bool
	nonInteractive bool
	watchMode      bool
	logLevel       string
	logFormat      string
	actingUser     string

	appConfig *config.Config
	version   = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "backlot",
	Short: "Unified inbox for crew messages, project updates and channels",
	Long: `backlot merges direct messages, project update threads and topic
channels into one inbox, ordered by latest activity.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		cmd.SetContext(logging.WithContext(cmd.Context(), cmdLogger(cmd.Name())))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.config/backlot/config.yaml)")
	flags.BoolVar(&jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&jsonlOutput, "jsonl", false, "output JSON lines")
	flags.BoolVarP(&quietOutput, "quiet", "q", false, "suppress non-essential output")
	flags.BoolVarP(&verboseOutput, "verbose", "v", false, "verbose output")
	flags.BoolVar(&nonInteractive, "non-interactive", false, "never prompt or render live views")
	flags.BoolVarP(&watchMode, "watch", "w", false, "keep running and stream changes")
	flags.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "log format override (json, console, auto)")
	flags.StringVarP(&actingUser, "as", "u", "", "act as this user (id or username)")
}

// Execute runs the root command.
func Execute(v string) error {
	if v != "" {
		version = v
	}
	rootCmd.Version = version
	return rootCmd.ExecuteContext(context.Background())
}

func initConfig() error {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	} else if verboseOutput {
		cfg.Logging.Level = "debug"
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       os.Stderr,
		EnableCaller: cfg.Logging.EnableCaller,
	})

	if used := loader.ConfigFileUsed(); used != "" {
		logging.Logger.Debug().Str("path", used).Msg("config loaded")
	}
	appConfig = cfg
	return nil
}

// GetConfig returns the loaded configuration, or defaults before loading.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

func IsJSONOutput() bool  { return jsonOutput }
func IsJSONLOutput() bool { return jsonlOutput }
func IsQuiet() bool       { return quietOutput }
func IsVerbose() bool     { return verboseOutput }
func IsWatchMode() bool   { return watchMode }

// IsNonInteractive is true when asked for, or when stdin or stdout is not a terminal.
func IsNonInteractive() bool {
	return nonInteractive || !hasTTY()
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// PreflightError is a user-facing error with a suggested fix.
type PreflightError struct {
	Message  string
	Hint     string
	NextStep string
}

func (e *PreflightError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}
	if e.NextStep != "" {
		b.WriteString("\n  try:  ")
		b.WriteString(e.NextStep)
	}
	return b.String()
}

func openDatabase() (*db.DB, error) {
	cfg := GetConfig()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	database, err := db.Open(db.Config{
		Path:           cfg.DatabasePath(),
		MaxConnections: cfg.Database.MaxConnections,
		BusyTimeoutMs:  cfg.Database.BusyTimeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := database.MigrateUp(context.Background()); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}

func contextStore() *config.ContextStore {
	return config.NewContextStore(GetConfig().ContextPath())
}

// resolveActingUser picks the user from --as, then the saved context.
func resolveActingUser(ctx context.Context, store *db.Store) (*db.User, error) {
	ref := strings.TrimSpace(actingUser)
	if ref == "" {
		saved, err := contextStore().Load()
		if err != nil {
			return nil, err
		}
		ref = saved.UserID
	}
	if ref == "" {
		return nil, &PreflightError{
			Message:  "no acting user",
			Hint:     "pass --as or save one with 'backlot use'",
			NextStep: "backlot use <username>",
		}
	}

	user, err := store.GetUser(ctx, ref)
	if errors.Is(err, db.ErrUserNotFound) {
		return nil, &PreflightError{
			Message:  fmt.Sprintf("user %q not found", ref),
			NextStep: "backlot seed",
		}
	}
	return user, err
}

func cmdLogger(name string) zerolog.Logger {
	return logging.Component("cli").With().Str("command", name).Logger()
}
