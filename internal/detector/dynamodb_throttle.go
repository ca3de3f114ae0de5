package detector

import (
	"context"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
)

// DynamoDBThrottleDetector is a reserved extension point. Listing tables and
// evaluating UserErrors needs a DynamoDB inventory call we do not make yet,
// so Detect returns nothing. The detector stays on the roster so the engine
// and evidence collector keep a branch for the rule.
type DynamoDBThrottleDetector struct {
	metrics  telemetry.MetricsSource
	settings config.Settings
}

func NewDynamoDBThrottleDetector(metrics telemetry.MetricsSource, settings config.Settings) *DynamoDBThrottleDetector {
	return &DynamoDBThrottleDetector{metrics: metrics, settings: settings}
}

func (d *DynamoDBThrottleDetector) Name() string { return string(incident.RuleDynamoDBThrottle) }

func (d *DynamoDBThrottleDetector) Detect(ctx context.Context) ([]incident.Incident, error) {
	return nil, nil
}
