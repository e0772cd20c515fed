// Package cmd implements the docchat command-line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/log"
)

var (
	flagCollection string
	flagDataDir    string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Chat with your documents through a local Ollama model",
	Long: `docchat indexes a directory of text, Markdown and PDF documents into a
local vector index and answers questions about them, citing the source
documents each answer drew on. Both embedding and generation run on a
local Ollama server; nothing leaves your machine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. It is the only entry point main calls.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCollection, "collection", "", "knowledge-base collection name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory holding index databases (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

// loadConfig reads configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if flagCollection != "" {
		cfg.Collection = flagCollection
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from config. Logs go to stderr so
// stdout stays clean for answers and reports.
func newLogger(cfg *config.Config) *slog.Logger {
	logger := log.NewWithWriter(os.Stderr, log.Config{
		Level: cfg.Level(),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)
	return logger
}
