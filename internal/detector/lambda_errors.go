package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
)

// LambdaErrorDetector flags functions whose total error count over the
// lookback window reaches the configured threshold. Long max durations
// escalate the severity, since errors plus near-timeout runtimes usually
// mean the function is timing out.
type LambdaErrorDetector struct {
	metrics  telemetry.MetricsSource
	settings config.Settings
}

func NewLambdaErrorDetector(metrics telemetry.MetricsSource, settings config.Settings) *LambdaErrorDetector {
	return &LambdaErrorDetector{metrics: metrics, settings: settings}
}

func (d *LambdaErrorDetector) Name() string { return string(incident.RuleLambdaErrors) }

func (d *LambdaErrorDetector) Detect(ctx context.Context) ([]incident.Incident, error) {
	var incidents []incident.Incident

	for _, functionName := range d.metrics.ListFunctions(ctx) {
		errSeries := d.metrics.GetLambdaErrors(ctx, functionName, d.settings.LookbackMinutes)
		if len(errSeries) == 0 {
			continue
		}

		totalErrors := 0.0
		for _, dp := range errSeries {
			totalErrors += dp.Sum
		}
		if totalErrors < float64(d.settings.LambdaErrorThreshold) {
			continue
		}

		maxDuration := 0.0
		for _, dp := range d.metrics.GetLambdaDuration(ctx, functionName, d.settings.LookbackMinutes) {
			if dp.Maximum > maxDuration {
				maxDuration = dp.Maximum
			}
		}

		severity := incident.SeverityMedium
		timeoutNote := ""
		if maxDuration > float64(d.settings.LambdaTimeoutThresholdMs) {
			severity = incident.SeverityHigh
			timeoutNote = fmt.Sprintf(" Function is also experiencing long execution times (max: %.0fms).", maxDuration)
		}

		incidents = append(incidents, incident.Incident{
			ID:       incident.NewID(incident.RuleLambdaErrors, functionName),
			Rule:     incident.RuleLambdaErrors,
			Title:    fmt.Sprintf("Lambda Errors: %s", functionName),
			Severity: severity,
			Resource: "function:" + functionName,
			Description: fmt.Sprintf(
				"Function '%s' has %.0f errors in the last %d minutes.%s",
				functionName, totalErrors, d.settings.LookbackMinutes, timeoutNote,
			),
			SuggestedFix: "1. Check CloudWatch Logs for error stack traces\n" +
				"2. Review recent code deployments\n" +
				"3. Verify function configuration (memory, timeout)\n" +
				"4. Check for dependency or permission issues",
			EvidenceFiles: []string{
				fmt.Sprintf("lambda-error-metrics-%s.json", functionName),
				fmt.Sprintf("lambda-duration-metrics-%s.json", functionName),
			},
			DetectedAt: time.Now().UTC(),
		})
	}

	return incidents, nil
}
