package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autopress/autopress/internal/daemon"
)

func init() {
	rootCmd.AddCommand(tickCmd)
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one autopilot tick and exit",
	Long: `Execute everything that is currently due — work items and scheduled
posts — exactly as the trigger endpoint would, then print the summary.
Useful for cron-less deployments and for testing a configuration.`,
	RunE: runTick,
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, true)

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	summary, err := d.Tick(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Processed: %d  succeeded: %d  failed: %d  skipped: %d\n",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped)
	for _, e := range summary.Errors {
		fmt.Fprintf(os.Stdout, "  %s: %s\n", e.WorkItemID, e.Message)
	}
	return nil
}
