package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
)

func newIncidentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "Inspect detected incidents",
	}

	cmd.AddCommand(newIncidentsListCmd())

	return cmd
}

func newIncidentsListCmd() *cobra.Command {
	var severity, rule, scanID string
	var latest bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newLocalApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if latest {
				if scanID != "" {
					return fmt.Errorf("--latest and --scan are mutually exclusive")
				}
				scanID, err = a.store.LatestScanID(ctx)
				if err != nil {
					return fmt.Errorf("failed to resolve latest scan: %w", err)
				}
				if scanID == "" {
					fmt.Println("no scans recorded yet")
					return nil
				}
			}

			incidents, err := a.store.List(ctx, incident.Filter{
				ScanID:   scanID,
				Rule:     incident.Rule(rule),
				Severity: severity,
			})
			if err != nil {
				return fmt.Errorf("failed to list incidents: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(incidents)
			}

			t := NewTable("ID", "RULE", "SEVERITY", "RESOURCE", "DETECTED")
			for _, inc := range incidents {
				t.AddRow(
					inc.ID,
					string(inc.Rule),
					formatSeverity(inc.Severity),
					truncate(inc.Resource, 40),
					inc.DetectedAt.Format("2006-01-02 15:04:05"),
				)
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity (LOW, MEDIUM, HIGH, CRITICAL)")
	cmd.Flags().StringVar(&rule, "rule", "", "filter by rule tag")
	cmd.Flags().StringVar(&scanID, "scan", "", "filter by scan ID")
	cmd.Flags().BoolVar(&latest, "latest", false, "only incidents from the most recent scan")

	return cmd
}
