// Package cmd provides the CLI commands for haestore using Cobra.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Zerofisher/haestore/internal/app"
	"github.com/Zerofisher/haestore/internal/config"
	"github.com/Zerofisher/haestore/internal/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// global flags
var (
	cfgFile  string
	logLevel string
	logFile  string
	dbPath   string
)

var rootCmd = &cobra.Command{
	Use:   "haestore",
	Short: "Persistent history of captured HTTP transactions",
	Long: `haestore stores intercepted request/response pairs together with the
values extracted from them by highlight rules, and lets you page, filter
and prune that history.

Examples:
  haestore import captures.jsonl                   # Record captures from a JSONL file
  haestore list --host '*.example.com'             # First page of matching messages
  haestore list --rule Email --value a@b.c -T json # Messages where a rule extracted a value
  haestore show 0192f1c4-...                       # Payloads and matches of one message
  haestore delete --host tracker                   # Remove messages by host pattern
  haestore serve --addr 127.0.0.1:8089             # HTTP API over the history`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./haestore.yaml or ~/.config/haestore/haestore.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this rotating file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "message history database path")

	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "input", Title: "Input Commands:"},
		&cobra.Group{ID: "query", Title: "Query Commands:"},
		&cobra.Group{ID: "manage", Title: "Management Commands:"},
	)

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the effective configuration and applies global flags on
// top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	if flags.Changed("db") {
		cfg.Storage.Path = dbPath
	}
	return cfg, nil
}

// openApp loads configuration, sets up logging and opens the App. The
// returned cleanup must be called when the command is done.
func openApp(cmd *cobra.Command, opts app.Options) (*app.App, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger, logCloser, err := logging.Setup(cfg.Log.Level, cfg.Log.File, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}

	a, err := app.New(cfg, logger, opts)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
		logCloser.Close()
	}
	return a, cleanup, nil
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
