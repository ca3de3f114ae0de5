package incident

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSanitizeResource(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		want     string
	}{
		{"lowercases", "i-ABC123", "i-abc123"},
		{"replaces ARN separators", "arn:aws:s3:::bucket/key", "arn-aws-s3----bucket-key"},
		{"replaces dots", "anthropic.claude-v2:1", "anthropic-claude-v2-1"},
		{
			"truncates to 50",
			strings.Repeat("x", 80),
			strings.Repeat("x", 50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeResource(tt.resource); got != tt.want {
				t.Errorf("SanitizeResource(%q) = %q, want %q", tt.resource, got, tt.want)
			}
		})
	}
}

func TestNewIDDeterministic(t *testing.T) {
	a := NewID(RuleEC2CPUSpike, "i-X")
	b := NewID(RuleEC2CPUSpike, "i-X")
	if a != b {
		t.Errorf("ids differ for identical inputs: %q vs %q", a, b)
	}
	if a != "ec2-cpu-spike-i-x" {
		t.Errorf("id = %q, want ec2-cpu-spike-i-x", a)
	}
}

func TestSeverityAtLeast(t *testing.T) {
	tests := []struct {
		s, min string
		want   bool
	}{
		{SeverityCritical, SeverityHigh, true},
		{SeverityHigh, SeverityHigh, true},
		{SeverityMedium, SeverityHigh, false},
		{SeverityLow, SeverityMedium, false},
		{"", SeverityLow, true}, // unknown ranks with LOW
	}
	for _, tt := range tests {
		if got := SeverityAtLeast(tt.s, tt.min); got != tt.want {
			t.Errorf("SeverityAtLeast(%q, %q) = %v, want %v", tt.s, tt.min, got, tt.want)
		}
	}
}

func TestIncidentJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		inc  Incident
	}{
		{
			name: "full incident",
			inc: Incident{
				ID:            "lambda-errors-checkout",
				Rule:          RuleLambdaErrors,
				Title:         "Lambda Errors: checkout",
				Severity:      SeverityHigh,
				Resource:      "function:checkout",
				Description:   "Function 'checkout' has 7 errors in the last 60 minutes.",
				SuggestedFix:  "1. Check CloudWatch Logs for error stack traces",
				EvidenceFiles: []string{"lambda-error-metrics-checkout.json"},
				DetectedAt:    time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "empty evidence files",
			inc: Incident{
				ID:       "dynamodb-throttle-orders",
				Rule:     RuleDynamoDBThrottle,
				Severity: SeverityLow,
				Resource: "orders",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.inc)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			var got Incident
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(tt.inc, got) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, tt.inc)
			}
		})
	}
}
