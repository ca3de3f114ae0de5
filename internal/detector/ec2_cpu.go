package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
)

// Severity escalates above this peak regardless of the configured threshold.
const criticalCPUCeiling = 98.0

// EC2CPUSpikeDetector flags instances whose CPU stayed above the configured
// threshold for the configured duration.
type EC2CPUSpikeDetector struct {
	metrics  telemetry.MetricsSource
	settings config.Settings
}

func NewEC2CPUSpikeDetector(metrics telemetry.MetricsSource, settings config.Settings) *EC2CPUSpikeDetector {
	return &EC2CPUSpikeDetector{metrics: metrics, settings: settings}
}

func (d *EC2CPUSpikeDetector) Name() string { return string(incident.RuleEC2CPUSpike) }

func (d *EC2CPUSpikeDetector) Detect(ctx context.Context) ([]incident.Incident, error) {
	var incidents []incident.Incident

	// Each datapoint covers one sample period, so a spike sustained for the
	// configured duration shows up as duration/period qualifying datapoints.
	required := d.settings.CPUDurationMinutes / int(telemetry.SamplePeriod.Minutes())

	for _, instanceID := range d.metrics.ListInstances(ctx) {
		series := d.metrics.GetEC2CPU(ctx, instanceID, d.settings.LookbackMinutes)
		if len(series) == 0 {
			// No datapoints means no signal, not a spike.
			continue
		}

		highCount := 0
		maxCPU := 0.0
		sumAvg := 0.0
		for _, dp := range series {
			if dp.Maximum > d.settings.CPUThreshold {
				highCount++
			}
			if dp.Maximum > maxCPU {
				maxCPU = dp.Maximum
			}
			sumAvg += dp.Average
		}
		if highCount < required {
			continue
		}
		avgCPU := sumAvg / float64(len(series))

		severity := incident.SeverityMedium
		if maxCPU > criticalCPUCeiling {
			severity = incident.SeverityHigh
		}

		incidents = append(incidents, incident.Incident{
			ID:       incident.NewID(incident.RuleEC2CPUSpike, instanceID),
			Rule:     incident.RuleEC2CPUSpike,
			Title:    fmt.Sprintf("EC2 CPU Spike on %s", instanceID),
			Severity: severity,
			Resource: instanceID,
			Description: fmt.Sprintf(
				"Instance %s has sustained CPU usage above %.1f%% for over %d minutes. Max CPU: %.1f%%, Avg CPU: %.1f%%",
				instanceID, d.settings.CPUThreshold, d.settings.CPUDurationMinutes, maxCPU, avgCPU,
			),
			SuggestedFix: "1. Check running processes with 'top' or 'htop'\n" +
				"2. Consider right-sizing instance type\n" +
				"3. Review application logs for performance issues\n" +
				"4. Set up Auto Scaling if load is variable",
			EvidenceFiles: []string{
				fmt.Sprintf("cloudwatch-metrics-%s.json", instanceID),
			},
			DetectedAt: time.Now().UTC(),
		})
	}

	return incidents, nil
}
