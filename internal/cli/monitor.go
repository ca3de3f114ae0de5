package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudpilot-labs/cloudpilot/internal/worker"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Scan continuously on the configured poll interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m := worker.NewMonitor(a.scanner, a.collector, a.cfg.Settings.PollInterval(), a.logger)
			m.Start(ctx)
			return nil
		},
	}
}
