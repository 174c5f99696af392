package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autopress/autopress/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("pretty", false, "Human-readable log output")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the AutoPress daemon",
	Long: `Start the HTTP API and, if [autopilot].cron is set, the internal tick
timer. The process runs until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pretty, _ := cmd.Flags().GetBool("pretty")
	log := newLogger(cfg, pretty)

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
