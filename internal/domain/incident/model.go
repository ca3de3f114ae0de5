package incident

import (
	"strings"
	"time"
)

// Rule identifies which detection rule produced an incident. The evidence
// collector switches on this tag; adding a rule means adding both a detector
// and a matching evidence branch.
type Rule string

const (
	RuleEC2CPUSpike      Rule = "ec2-cpu-spike"
	RuleLambdaErrors     Rule = "lambda-errors"
	RuleBedrockTokens    Rule = "bedrock-token-usage"
	RuleS3AccessDenied   Rule = "s3-access-denied"
	RuleDynamoDBThrottle Rule = "dynamodb-throttle"
)

// Severity levels, ordered LOW < MEDIUM < HIGH < CRITICAL.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

var severityRank = map[string]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// SeverityAtLeast reports whether severity s ranks at or above min. Unknown
// severities rank below LOW.
func SeverityAtLeast(s, min string) bool {
	return severityRank[s] >= severityRank[min]
}

// Incident is one detected problem with remediation guidance. It is created
// by a single detector and never mutated afterwards.
type Incident struct {
	ID            string   `json:"id"`
	Rule          Rule     `json:"rule"`
	Title         string   `json:"title"`
	Severity      string   `json:"severity"`
	Resource      string   `json:"resource"`
	Description   string   `json:"description"`
	SuggestedFix  string   `json:"suggested_fix"`
	EvidenceFiles []string `json:"evidence_files"`

	DetectedAt time.Time `json:"detected_at,omitempty"`
}

const maxResourceSlugLen = 50

// NewID builds the deterministic incident identity for a (rule, resource)
// pair: "{rule}-{sanitized resource}". Re-running detection against unchanged
// telemetry yields the same ID.
func NewID(rule Rule, resource string) string {
	return string(rule) + "-" + SanitizeResource(resource)
}

// SanitizeResource lower-cases a resource identifier and replaces ARN and
// path separators so the result is filesystem-safe, truncated to 50 chars.
func SanitizeResource(resource string) string {
	s := strings.ToLower(resource)
	s = strings.NewReplacer(":", "-", "/", "-", ".", "-").Replace(s)
	if len(s) > maxResourceSlugLen {
		s = s[:maxResourceSlugLen]
	}
	return s
}
