// Command padcrawl checks project pages for appraisal document evidence,
// checkpointing long crawls, and merges the results of several runs.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/use-agent/padcrawl/config"
)

var rootCmd = &cobra.Command{
	Use:           "padcrawl",
	Short:         "Checkpointed crawler for project appraisal document evidence",
	Long:          "padcrawl renders project pages, looks for evidence of a Project Appraisal Document, harvests candidate document links and merges results from several runs into one status table.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// configPath is shared by every subcommand.
var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file (optional)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initLogger configures slog based on the LogConfig. Logs go to stderr so
// that stdout carries only command output.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
