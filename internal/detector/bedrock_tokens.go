package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
)

// Bedrock publishes per-model metrics but no inventory API worth polling, so
// the detector checks a fixed list of commonly deployed model IDs.
var bedrockModelIDs = []string{
	"anthropic.claude-3-sonnet-20240229-v1:0",
	"anthropic.claude-3-haiku-20240307-v1:0",
	"anthropic.claude-v2:1",
	"amazon.titan-text-express-v1",
}

// BedrockTokenUsageDetector flags models whose input-token consumption over
// the token window reaches the configured budget.
type BedrockTokenUsageDetector struct {
	metrics  telemetry.MetricsSource
	settings config.Settings
	modelIDs []string
}

func NewBedrockTokenUsageDetector(metrics telemetry.MetricsSource, settings config.Settings) *BedrockTokenUsageDetector {
	return &BedrockTokenUsageDetector{metrics: metrics, settings: settings, modelIDs: bedrockModelIDs}
}

func (d *BedrockTokenUsageDetector) Name() string { return string(incident.RuleBedrockTokens) }

func (d *BedrockTokenUsageDetector) Detect(ctx context.Context) ([]incident.Incident, error) {
	var incidents []incident.Incident

	for _, modelID := range d.modelIDs {
		tokenSeries := d.metrics.GetBedrockInputTokens(ctx, modelID, d.settings.BedrockTokenWindowMinutes)
		if len(tokenSeries) == 0 {
			continue
		}

		totalTokens := 0.0
		for _, dp := range tokenSeries {
			totalTokens += dp.Sum
		}
		if totalTokens < float64(d.settings.BedrockTokenThreshold) {
			continue
		}

		totalInvocations := 0.0
		for _, dp := range d.metrics.GetBedrockInvocations(ctx, modelID, d.settings.BedrockTokenWindowMinutes) {
			totalInvocations += dp.Sum
		}
		avgTokensPerCall := 0.0
		if totalInvocations > 0 {
			avgTokensPerCall = totalTokens / totalInvocations
		}

		incidents = append(incidents, incident.Incident{
			ID:       incident.NewID(incident.RuleBedrockTokens, modelID),
			Rule:     incident.RuleBedrockTokens,
			Title:    fmt.Sprintf("Excessive Bedrock Token Usage: %s", modelID),
			Severity: incident.SeverityHigh,
			Resource: "model:" + modelID,
			Description: fmt.Sprintf(
				"Model '%s' has consumed %.0f tokens in the last %d minutes. Total invocations: %.0f, Avg tokens/call: %.0f",
				modelID, totalTokens, d.settings.BedrockTokenWindowMinutes, totalInvocations, avgTokensPerCall,
			),
			SuggestedFix: "1. Review application logic for unnecessary API calls\n" +
				"2. Check for retry loops or error conditions\n" +
				"3. Consider implementing caching for common requests\n" +
				"4. Review prompt engineering to reduce token usage\n" +
				"5. Set up CloudWatch alarms for token thresholds",
			EvidenceFiles: []string{
				fmt.Sprintf("bedrock-token-metrics-%s.json", incident.SanitizeResource(modelID)),
				fmt.Sprintf("bedrock-invocation-metrics-%s.json", incident.SanitizeResource(modelID)),
			},
			DetectedAt: time.Now().UTC(),
		})
	}

	return incidents, nil
}
