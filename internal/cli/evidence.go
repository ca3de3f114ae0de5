package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
)

func newEvidenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Manage incident evidence bundles",
	}

	cmd.AddCommand(newEvidenceCollectCmd())
	cmd.AddCommand(newEvidencePackageCmd())
	cmd.AddCommand(newEvidenceCleanupCmd())

	return cmd
}

func newEvidenceCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect <incident-id>",
		Short: "Re-collect telemetry evidence for a stored incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			inc, err := findIncident(ctx, a, args[0])
			if err != nil {
				return err
			}

			files, err := a.collector.CollectForIncident(ctx, inc)
			if err != nil {
				return fmt.Errorf("evidence collection failed: %w", err)
			}

			for name, path := range files {
				fmt.Printf("%s\t%s\n", name, path)
			}
			return nil
		},
	}
}

func newEvidencePackageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "package <incident-id>",
		Short: "Package an incident's evidence directory into a tar.gz archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newLocalApp()
			if err != nil {
				return err
			}
			defer a.Close()

			inc, err := findIncident(ctx, a, args[0])
			if err != nil {
				return err
			}

			archive, err := a.collector.PackageEvidence(ctx, inc)
			if err != nil {
				return fmt.Errorf("failed to package evidence: %w", err)
			}

			fmt.Println(archive)
			return nil
		},
	}
}

func newEvidenceCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete evidence older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newLocalApp()
			if err != nil {
				return err
			}
			defer a.Close()

			a.collector.CleanupOldEvidence()
			return nil
		},
	}
}

// findIncident looks an incident up by ID across all recorded scans.
func findIncident(ctx context.Context, a *app, id string) (*incident.Incident, error) {
	incidents, err := a.store.List(ctx, incident.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	for _, inc := range incidents {
		if inc.ID == id {
			return inc, nil
		}
	}
	return nil, fmt.Errorf("incident %s not found", id)
}
