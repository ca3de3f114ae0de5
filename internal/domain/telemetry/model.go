package telemetry

import (
	"encoding/json"
	"time"
)

// MetricDatapoint is a single time-bucketed CloudWatch statistic sample.
// A series is ordered ascending by Timestamp for one (resource, metric) pair.
type MetricDatapoint struct {
	Timestamp time.Time `json:"timestamp"`
	Average   float64   `json:"average,omitempty"`
	Maximum   float64   `json:"maximum,omitempty"`
	Sum       float64   `json:"sum,omitempty"`
}

// AuditEvent is one CloudTrail management event. ErrorCode is empty when the
// underlying API call succeeded.
type AuditEvent struct {
	Timestamp    time.Time       `json:"timestamp"`
	Username     string          `json:"username"`
	EventName    string          `json:"event_name"`
	EventSource  string          `json:"event_source"`
	ErrorCode    string          `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	SourceIP     string          `json:"source_ip,omitempty"`
	Resources    []string        `json:"resources"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// SamplePeriod is the CloudWatch aggregation period assumed by the detectors.
// The required-datapoint arithmetic in the CPU spike rule depends on it; if a
// source ever returns a different granularity the count will be wrong.
const SamplePeriod = 5 * time.Minute
