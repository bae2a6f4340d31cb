// Package cmd implements the cronbox CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cronbox/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "cronbox",
	Short: "Cron scheduling engine for automated agent runs",
	Long: `cronbox schedules and executes automated agent invocations.

Jobs fire on one-time ("at"), interval ("every"), or standard 5-field
cron schedules, with persisted run history.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.cronbox/config.json5)")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())
}

func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}

// loadConfig loads the config or exits with a message.
func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging installs the global slog handler at the configured level.
func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

const version = "0.1.0"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cronbox version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cronbox " + version)
		},
	}
}
