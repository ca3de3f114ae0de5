package telemetry

import "context"

// MetricsSource provides CloudWatch metric series and resource inventories.
//
// Implementations swallow transport errors at the boundary: a failed call logs
// a warning and returns an empty slice, never an error, so a flaky API cannot
// abort a detection batch. Series are sorted ascending by timestamp.
type MetricsSource interface {
	// ListInstances returns the IDs of running EC2 instances in the region.
	ListInstances(ctx context.Context) []string

	// ListFunctions returns the names of all Lambda functions in the region.
	ListFunctions(ctx context.Context) []string

	// GetEC2CPU returns CPUUtilization datapoints (Average, Maximum) for an
	// instance over the trailing lookback window.
	GetEC2CPU(ctx context.Context, instanceID string, lookbackMinutes int) []MetricDatapoint

	// GetLambdaErrors returns the Errors metric (Sum) for a function.
	GetLambdaErrors(ctx context.Context, functionName string, lookbackMinutes int) []MetricDatapoint

	// GetLambdaDuration returns the Duration metric (Average, Maximum) for a
	// function, in milliseconds.
	GetLambdaDuration(ctx context.Context, functionName string, lookbackMinutes int) []MetricDatapoint

	// GetBedrockInputTokens returns the InputTokenCount metric (Sum) for a
	// model.
	GetBedrockInputTokens(ctx context.Context, modelID string, lookbackMinutes int) []MetricDatapoint

	// GetBedrockInvocations returns the Invocations metric (Sum) for a model.
	GetBedrockInvocations(ctx context.Context, modelID string, lookbackMinutes int) []MetricDatapoint

	// GetDynamoDBThrottles returns the UserErrors metric (Sum) for a table.
	GetDynamoDBThrottles(ctx context.Context, tableName string, lookbackMinutes int) []MetricDatapoint
}

// EventsSource provides filtered CloudTrail audit events over a trailing
// window. Same empty-on-error contract as MetricsSource.
type EventsSource interface {
	// GetS3AccessDenied returns GetObject events that failed with AccessDenied.
	GetS3AccessDenied(ctx context.Context, lookbackMinutes int) []AuditEvent

	// GetFailedAPICalls returns events with any error code, optionally
	// restricted to one service prefix (e.g. "s3", "lambda").
	GetFailedAPICalls(ctx context.Context, lookbackMinutes int, service string) []AuditEvent
}

// CredentialChecker is implemented by sources that can verify AWS access up
// front. A scan distinguishes a credential failure from an empty result.
type CredentialChecker interface {
	VerifyAccess(ctx context.Context) error
}
