// Package evidence snapshots the telemetry that justified an incident into
// per-incident directories, packages them into archives, and ages them out.
package evidence

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
	apperrors "github.com/cloudpilot-labs/cloudpilot/internal/pkg/errors"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
)

// PolicyFetcher supplies S3 bucket policies as supplementary evidence for
// access-denied incidents. Optional; a nil fetcher just skips the policy
// file.
type PolicyFetcher interface {
	GetBucketPolicy(ctx context.Context, resource string) string
}

// Collector materializes supporting telemetry for incidents under
// {output_dir}/{incident_id}/. An I/O failure for one incident never blocks
// collection for others; the caller isolates per incident.
type Collector struct {
	metrics  telemetry.MetricsSource
	events   telemetry.EventsSource
	policies PolicyFetcher
	settings config.Settings
	logger   *logger.Logger
}

// NewCollector creates a collector. policies may be nil.
func NewCollector(
	metrics telemetry.MetricsSource,
	events telemetry.EventsSource,
	policies PolicyFetcher,
	settings config.Settings,
	log *logger.Logger,
) *Collector {
	return &Collector{
		metrics:  metrics,
		events:   events,
		policies: policies,
		settings: settings,
		logger:   log,
	}
}

// CollectForIncident re-fetches the telemetry behind an incident and writes
// it as files under the incident's directory, returning file name -> path.
// The rule tag picks the evidence branch; an unknown rule still gets the
// incident snapshot. incident.json is always written, last.
func (c *Collector) CollectForIncident(ctx context.Context, inc *incident.Incident) (map[string]string, error) {
	dir := filepath.Join(c.settings.EvidenceOutputDir, inc.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.EvidenceIO("failed to create evidence directory", err)
	}

	paths := make(map[string]string)

	var err error
	switch inc.Rule {
	case incident.RuleEC2CPUSpike:
		err = c.collectEC2(ctx, inc, dir, paths)
	case incident.RuleLambdaErrors:
		err = c.collectLambda(ctx, inc, dir, paths)
	case incident.RuleBedrockTokens:
		err = c.collectBedrock(ctx, inc, dir, paths)
	case incident.RuleS3AccessDenied:
		err = c.collectS3(ctx, inc, dir, paths)
	default:
		c.logger.With("rule", string(inc.Rule)).Debug("no evidence branch for rule, writing snapshot only")
	}
	if err != nil {
		return nil, err
	}

	if err := c.writeJSON(dir, "incident.json", inc, paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func (c *Collector) collectEC2(ctx context.Context, inc *incident.Incident, dir string, paths map[string]string) error {
	series := c.metrics.GetEC2CPU(ctx, inc.Resource, c.settings.LookbackMinutes)
	name := fmt.Sprintf("cloudwatch-metrics-%s.json", inc.Resource)
	return c.writeJSON(dir, name, series, paths)
}

func (c *Collector) collectLambda(ctx context.Context, inc *incident.Incident, dir string, paths map[string]string) error {
	functionName := strings.TrimPrefix(inc.Resource, "function:")

	errSeries := c.metrics.GetLambdaErrors(ctx, functionName, c.settings.LookbackMinutes)
	if err := c.writeJSON(dir, fmt.Sprintf("lambda-error-metrics-%s.json", functionName), errSeries, paths); err != nil {
		return err
	}

	durSeries := c.metrics.GetLambdaDuration(ctx, functionName, c.settings.LookbackMinutes)
	return c.writeJSON(dir, fmt.Sprintf("lambda-duration-metrics-%s.json", functionName), durSeries, paths)
}

func (c *Collector) collectBedrock(ctx context.Context, inc *incident.Incident, dir string, paths map[string]string) error {
	modelID := strings.TrimPrefix(inc.Resource, "model:")
	slug := incident.SanitizeResource(modelID)

	tokens := c.metrics.GetBedrockInputTokens(ctx, modelID, c.settings.BedrockTokenWindowMinutes)
	if err := c.writeJSON(dir, fmt.Sprintf("bedrock-token-metrics-%s.json", slug), tokens, paths); err != nil {
		return err
	}

	invocations := c.metrics.GetBedrockInvocations(ctx, modelID, c.settings.BedrockTokenWindowMinutes)
	return c.writeJSON(dir, fmt.Sprintf("bedrock-invocation-metrics-%s.json", slug), invocations, paths)
}

func (c *Collector) collectS3(ctx context.Context, inc *incident.Incident, dir string, paths map[string]string) error {
	denied := c.events.GetS3AccessDenied(ctx, c.settings.LookbackMinutes)

	var matching []telemetry.AuditEvent
	for _, ev := range denied {
		for _, resource := range ev.Resources {
			if resource == inc.Resource {
				matching = append(matching, ev)
				break
			}
		}
	}

	slug := incident.SanitizeResource(inc.Resource)
	if len(slug) > 30 {
		slug = slug[:30]
	}
	if err := c.writeJSON(dir, fmt.Sprintf("cloudtrail-s3-access-denied-%s.json", slug), matching, paths); err != nil {
		return err
	}

	if c.policies != nil {
		if policy := c.policies.GetBucketPolicy(ctx, inc.Resource); policy != "" {
			name := fmt.Sprintf("s3-bucket-policy-%s.json", bucketSlug(inc.Resource))
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(policy), 0o644); err != nil {
				return apperrors.EvidenceIO("failed to write bucket policy", err)
			}
			paths[name] = path
		}
	}
	return nil
}

// bucketSlug names the policy file after the bucket owning the resource:
// "arn:aws:s3:::my-bucket/key" and "my-bucket/key" both become "my-bucket".
func bucketSlug(resource string) string {
	if idx := strings.Index(resource, ":::"); idx >= 0 {
		resource = resource[idx+3:]
	}
	bucket, _, _ := strings.Cut(resource, "/")
	return incident.SanitizeResource(bucket)
}

func (c *Collector) writeJSON(dir, name string, v interface{}, paths map[string]string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperrors.EvidenceIO(fmt.Sprintf("failed to serialize %s", name), err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.EvidenceIO(fmt.Sprintf("failed to write %s", name), err)
	}
	paths[name] = path
	return nil
}

// PackageEvidence bundles the incident directory into a timestamped tar.gz
// next to it, returning the archive path. With sources wired the evidence is
// re-collected first; a collector built without sources packages whatever an
// earlier collection left on disk.
func (c *Collector) PackageEvidence(ctx context.Context, inc *incident.Incident) (string, error) {
	if c.metrics != nil && c.events != nil {
		if _, err := c.CollectForIncident(ctx, inc); err != nil {
			return "", err
		}
	} else if _, err := os.Stat(filepath.Join(c.settings.EvidenceOutputDir, inc.ID)); err != nil {
		return "", apperrors.EvidenceIO(fmt.Sprintf("no collected evidence for %s", inc.ID), err)
	}

	timestamp := time.Now().Format("20060102_150405")
	archivePath := filepath.Join(c.settings.EvidenceOutputDir, fmt.Sprintf("%s_%s.tar.gz", inc.ID, timestamp))

	if err := tarDirectory(filepath.Join(c.settings.EvidenceOutputDir, inc.ID), inc.ID, archivePath); err != nil {
		return "", apperrors.EvidenceIO("failed to package evidence", err)
	}
	return archivePath, nil
}

func tarDirectory(dir, arcRoot, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(arcRoot, entry.Name()))
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, src)
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// CleanupOldEvidence removes evidence directories and archives whose
// last-modified time is older than the retention window. Each deletion is
// attempted independently; one locked or missing entry does not stop the
// sweep.
func (c *Collector) CleanupOldEvidence() {
	maxAge := time.Duration(c.settings.MaxEvidenceAgeDays) * 24 * time.Hour
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(c.settings.EvidenceOutputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.WithError(err).Warn("failed to scan evidence directory")
		}
		return
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			c.logger.With("entry", entry.Name()).WithError(err).Warn("failed to stat evidence entry")
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(c.settings.EvidenceOutputDir, entry.Name())
		switch {
		case entry.IsDir():
			err = os.RemoveAll(path)
		case strings.HasSuffix(entry.Name(), ".gz"):
			err = os.Remove(path)
		default:
			continue
		}
		if err != nil {
			c.logger.With("entry", entry.Name()).WithError(err).Warn("failed to remove stale evidence")
			continue
		}
		c.logger.With("entry", entry.Name()).Info("removed stale evidence")
	}
}
