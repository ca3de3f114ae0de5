package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "cloudpilot",
	Short: "CloudPilot - AWS incident detection and evidence collection",
	Long: `CloudPilot scans AWS telemetry (CloudWatch metrics and CloudTrail
events) for operational incidents: EC2 CPU spikes, Lambda error bursts,
Bedrock token overruns, and S3 access-denied patterns. Detected incidents
are persisted, their supporting telemetry captured as evidence bundles,
and optionally alerted over SNS.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newIncidentsCmd())
	rootCmd.AddCommand(newEvidenceCmd())
}

func getOutputFormat() string {
	return outputFormat
}
