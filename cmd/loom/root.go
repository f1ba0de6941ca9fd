package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomwm/loom"
	"github.com/loomwm/loom/internal/config"
	"github.com/loomwm/loom/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Loom is an infinite canvas for a display server",
	Long: `Loom places client windows as nodes on an unbounded 2D canvas, links them
with typed connections and exposes the canvas to tools and AI agents over a
versioned request protocol.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
}

// loadConfig reads the --config file and applies the --log-level override.
func loadConfig(cmd *cobra.Command) (*loom.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func newLogger(cfg *loom.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(level, logging.Format(cfg.Log.Format)), nil
}
