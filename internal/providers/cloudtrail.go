package providers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
)

const maxLookupResults = 100

// CloudTrailSource implements telemetry.EventsSource. Like the metrics
// source, it swallows transport errors at the boundary and returns empty
// slices.
type CloudTrailSource struct {
	ct     *cloudtrail.Client
	logger *logger.Logger
}

// NewCloudTrailSource creates a source from a shared AWS config.
func NewCloudTrailSource(cfg aws.Config, log *logger.Logger) *CloudTrailSource {
	return &CloudTrailSource{ct: cloudtrail.NewFromConfig(cfg), logger: log}
}

// GetS3AccessDenied returns GetObject events that failed with AccessDenied.
func (s *CloudTrailSource) GetS3AccessDenied(ctx context.Context, lookbackMinutes int) []telemetry.AuditEvent {
	events := s.lookupEvents(ctx, lookbackMinutes, "GetObject")

	var denied []telemetry.AuditEvent
	for _, ev := range events {
		if ev.ErrorCode == "AccessDenied" {
			denied = append(denied, ev)
		}
	}
	return denied
}

// GetFailedAPICalls returns events carrying any error code, optionally
// restricted to one service (matched as a prefix of the event source, so
// "s3" matches "s3.amazonaws.com").
func (s *CloudTrailSource) GetFailedAPICalls(ctx context.Context, lookbackMinutes int, service string) []telemetry.AuditEvent {
	events := s.lookupEvents(ctx, lookbackMinutes, "")

	var failed []telemetry.AuditEvent
	for _, ev := range events {
		if ev.ErrorCode == "" {
			continue
		}
		if service != "" && !strings.HasPrefix(ev.EventSource, service) {
			continue
		}
		failed = append(failed, ev)
	}
	return failed
}

func (s *CloudTrailSource) lookupEvents(ctx context.Context, lookbackMinutes int, eventName string) []telemetry.AuditEvent {
	end := time.Now().UTC()
	start := end.Add(-time.Duration(lookbackMinutes) * time.Minute)

	input := &cloudtrail.LookupEventsInput{
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		MaxResults: aws.Int32(maxLookupResults),
	}
	if eventName != "" {
		input.LookupAttributes = []cttypes.LookupAttribute{
			{AttributeKey: cttypes.LookupAttributeKeyEventName, AttributeValue: aws.String(eventName)},
		}
	}

	out, err := s.ct.LookupEvents(ctx, input)
	if err != nil {
		s.logger.WithError(err).Warn("failed to look up CloudTrail events")
		return nil
	}

	events := make([]telemetry.AuditEvent, 0, len(out.Events))
	for _, ev := range out.Events {
		events = append(events, parseEvent(ev))
	}
	return events
}

// rawEvent is the subset of the CloudTrailEvent JSON payload the detectors
// care about.
type rawEvent struct {
	EventSource     string `json:"eventSource"`
	ErrorCode       string `json:"errorCode"`
	ErrorMessage    string `json:"errorMessage"`
	SourceIPAddress string `json:"sourceIPAddress"`
}

func parseEvent(ev cttypes.Event) telemetry.AuditEvent {
	out := telemetry.AuditEvent{
		Username:  aws.ToString(ev.Username),
		EventName: aws.ToString(ev.EventName),
	}
	if ev.EventTime != nil {
		out.Timestamp = *ev.EventTime
	}
	for _, r := range ev.Resources {
		if r.ResourceName != nil {
			out.Resources = append(out.Resources, *r.ResourceName)
		}
	}

	payload := aws.ToString(ev.CloudTrailEvent)
	if payload == "" {
		return out
	}
	out.Raw = json.RawMessage(payload)

	var raw rawEvent
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		// Malformed payload: keep the envelope fields, treat as success.
		return out
	}
	out.EventSource = raw.EventSource
	out.ErrorCode = raw.ErrorCode
	out.ErrorMessage = raw.ErrorMessage
	out.SourceIP = raw.SourceIPAddress
	return out
}
