package detector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
)

// S3AccessDeniedDetector flags S3 resources with denied read-object calls in
// the lookback window, one incident per affected resource.
type S3AccessDeniedDetector struct {
	events   telemetry.EventsSource
	settings config.Settings
}

func NewS3AccessDeniedDetector(events telemetry.EventsSource, settings config.Settings) *S3AccessDeniedDetector {
	return &S3AccessDeniedDetector{events: events, settings: settings}
}

func (d *S3AccessDeniedDetector) Name() string { return string(incident.RuleS3AccessDenied) }

func (d *S3AccessDeniedDetector) Detect(ctx context.Context) ([]incident.Incident, error) {
	denied := d.events.GetS3AccessDenied(ctx, d.settings.LookbackMinutes)

	byResource := make(map[string][]telemetry.AuditEvent)
	for _, ev := range denied {
		for _, resource := range ev.Resources {
			byResource[resource] = append(byResource[resource], ev)
		}
	}

	// Stable output order regardless of map iteration.
	resources := make([]string, 0, len(byResource))
	for resource := range byResource {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	var incidents []incident.Incident
	for _, resource := range resources {
		events := byResource[resource]

		seen := make(map[string]bool)
		var usernames []string
		for _, ev := range events {
			name := ev.Username
			if name == "" {
				name = "unknown"
			}
			if !seen[name] {
				seen[name] = true
				usernames = append(usernames, name)
			}
		}
		sort.Strings(usernames)

		incidents = append(incidents, incident.Incident{
			ID:       incident.NewID(incident.RuleS3AccessDenied, resource),
			Rule:     incident.RuleS3AccessDenied,
			Title:    fmt.Sprintf("S3 Access Denied: %s", resource),
			Severity: incident.SeverityHigh,
			Resource: resource,
			Description: fmt.Sprintf(
				"S3 resource '%s' has %d access denied error(s) in the last %d minutes. Affected users: %s",
				resource, len(events), d.settings.LookbackMinutes, strings.Join(usernames, ", "),
			),
			SuggestedFix: "1. Review S3 bucket policy for required permissions\n" +
				"2. Check IAM role/user permissions for s3:GetObject\n" +
				"3. Verify bucket ACLs and Block Public Access settings\n" +
				"4. Ensure correct AWS account is being used",
			EvidenceFiles: []string{
				fmt.Sprintf("cloudtrail-s3-access-denied-%s.json", shortResourceSlug(resource)),
			},
			DetectedAt: time.Now().UTC(),
		})
	}

	return incidents, nil
}

// shortResourceSlug keeps evidence filenames well under filesystem limits.
func shortResourceSlug(resource string) string {
	s := incident.SanitizeResource(resource)
	if len(s) > 30 {
		s = s[:30]
	}
	return s
}
