package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one detection scan against AWS telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.scanner.Scan(ctx)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(result)
			}

			fmt.Printf("Scan %s finished in %s: %d incident(s)\n\n",
				result.ScanID, result.Duration.Round(time.Millisecond), len(result.Incidents))

			if len(result.Incidents) > 0 {
				t := NewTable("ID", "SEVERITY", "RESOURCE", "TITLE")
				for _, inc := range result.Incidents {
					t.AddRow(inc.ID, formatSeverity(inc.Severity), inc.Resource, truncate(inc.Title, 60))
				}
				t.Render()
			}

			for _, f := range result.DetectorFailures {
				fmt.Printf("detector %s failed: %s\n", f.Detector, f.Message)
			}
			if result.EvidenceFailures > 0 {
				fmt.Printf("%d incident(s) missing evidence due to collection errors\n", result.EvidenceFailures)
			}
			return nil
		},
	}
}
