package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/mirrorgen/internal/config"
	"github.com/BadgerOps/mirrorgen/internal/engine"
	"github.com/BadgerOps/mirrorgen/internal/feed"
	"github.com/BadgerOps/mirrorgen/internal/output"
	"github.com/BadgerOps/mirrorgen/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore     *store.Store
	globalGenerator *engine.Generator
)

// initializeComponents opens the run history store (when configured) and
// builds the generator around the configured feed source
func initializeComponents(needGenerator bool) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if globalCfg.Store.DBPath != "" {
		st, err := store.New(globalCfg.Store.DBPath, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		globalStore = st
	}

	if !needGenerator {
		return nil
	}

	src, err := newSource()
	if err != nil {
		return err
	}

	globalGenerator = engine.NewGenerator(src, globalStore, output.NewWriter(nil), logger)
	globalGenerator.SetRetention(globalCfg.Store.KeepRuns)

	logger.Debug("components initialized", "source", src.Name(), "history", globalStore != nil)
	return nil
}

// newSource picks the local feed file when --feed-file is set, the
// configured URL otherwise
func newSource() (engine.Source, error) {
	if flags.feedFile != "" {
		return feed.NewFileSource(flags.feedFile, globalCfg.Feed.MaxBytes, logger), nil
	}
	timeout, err := globalCfg.FeedTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid feed timeout: %w", err)
	}
	src := feed.NewHTTPSource(globalCfg.Feed.URL, timeout, globalCfg.Feed.MaxBytes, logger)
	return src.WithAttempts(globalCfg.Feed.Attempts), nil
}

// componentsFor reports which components a command needs
func componentsFor(cmdName string) (needStore, needGenerator bool) {
	switch cmdName {
	case "generate", "watch", "serve":
		return true, true
	case "history":
		return true, false
	default:
		return false, false
	}
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// execute runs cmd and always releases the store. cobra skips
// PersistentPostRun when RunE fails.
func execute(cmd *cobra.Command) error {
	defer closeStore()
	return cmd.Execute()
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrorgen",
		Short: "Generate a ranked pacman mirrorlist from the Arch Linux mirror status feed",
		Long: `mirrorgen downloads the Arch Linux mirror status feed, keeps the mirrors
that match your protocol, country, freshness and completion requirements,
ranks them by upstream score and writes a pacman mirrorlist.

Every run fetches a fresh feed. Nothing from previous runs influences the
result; the optional run history is an audit log only.`,
		Example: `  mirrorgen generate --country DE --protocol https
  mirrorgen generate --max-delay 1h --limit 10 -o /etc/pacman.d/mirrorlist
  mirrorgen watch --cron "0 */6 * * *" -o /etc/pacman.d/mirrorlist
  mirrorgen serve --listen 127.0.0.1:8080
  mirrorgen history`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if err := loadConfig(); err != nil {
				return err
			}

			applyFlagOverrides(cmd, globalCfg)

			// config show/validate report problems themselves
			if cmd.Parent() == nil || cmd.Parent().Name() != "config" {
				if err := globalCfg.Validate(); err != nil {
					return err
				}
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath)
			}

			if needStore, needGen := componentsFor(cmd.Name()); needStore || needGen {
				if err := initializeComponents(needGen); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newGenerateCmd(),
		newWatchCmd(),
		newServeCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

// loadConfig loads --config, a discovered config file, or the defaults
func loadConfig() error {
	path := cfgPath
	if path == "" {
		found, err := config.FindConfigFile()
		if err != nil {
			logger.Debug("config file not found, using defaults", "error", err)
		}
		path = found
	}

	if path == "" {
		globalCfg = config.DefaultConfig()
		return nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	globalCfg = cfg
	cfgPath = path
	return nil
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"completion": true,
	}
	return skipConfigCmds[cmdName]
}
