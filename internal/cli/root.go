// Package cli implements the autopress command line interface.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/autopress/autopress/internal/daemon"
	"github.com/autopress/autopress/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "autopress",
	Short: "Autopilot content engine",
	Long: `AutoPress runs scheduled content production: it generates articles on a
recurring cadence, meters each run against the owner's credit balance, and
publishes the result to WordPress. The scheduler is trigger-driven — an
external cron (or the optional internal timer) calls the tick endpoint.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.toml (default ~/.autopress/config.toml)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file from --config or the default location.
func loadConfig() (daemon.Config, error) {
	path := configPath
	if path == "" {
		path = daemon.DefaultConfigPath()
	}
	return daemon.LoadConfig(path)
}

func newLogger(cfg daemon.Config, pretty bool) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty || pretty,
	})
}
