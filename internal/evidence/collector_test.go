package evidence

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
	"github.com/cloudpilot-labs/cloudpilot/internal/testutil"
)

func newTestCollector(t *testing.T, metrics *testutil.MockMetricsSource, events *testutil.MockEventsSource) (*Collector, config.Settings) {
	t.Helper()
	settings := config.Settings{
		LookbackMinutes:           60,
		BedrockTokenWindowMinutes: 60,
		EvidenceOutputDir:         t.TempDir(),
		MaxEvidenceAgeDays:        30,
	}
	return NewCollector(metrics, events, nil, settings, logger.Nop()), settings
}

func TestCollectForIncidentEC2(t *testing.T) {
	metrics := testutil.NewMockMetricsSource()
	metrics.EC2CPU["i-abc"] = []telemetry.MetricDatapoint{
		{Timestamp: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), Maximum: 99, Average: 90},
	}
	c, _ := newTestCollector(t, metrics, testutil.NewMockEventsSource())

	inc := &incident.Incident{
		ID:       "ec2-cpu-spike-i-abc",
		Rule:     incident.RuleEC2CPUSpike,
		Resource: "i-abc",
		Severity: incident.SeverityHigh,
	}

	paths, err := c.CollectForIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"cloudwatch-metrics-i-abc.json", "incident.json"} {
		path, ok := paths[name]
		if !ok {
			t.Fatalf("missing evidence file %s in %v", name, paths)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("evidence file %s not on disk: %v", name, err)
		}
	}

	// The snapshot must deserialize back into the incident.
	data, err := os.ReadFile(paths["incident.json"])
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var got incident.Incident
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.ID != inc.ID || got.Rule != inc.Rule {
		t.Errorf("snapshot mismatch: %+v", got)
	}
}

func TestCollectForIncidentLambdaWritesBothSeries(t *testing.T) {
	metrics := testutil.NewMockMetricsSource()
	metrics.LambdaErrors["checkout"] = []telemetry.MetricDatapoint{{Sum: 7}}
	metrics.LambdaDuration["checkout"] = []telemetry.MetricDatapoint{{Maximum: 30000}}
	c, _ := newTestCollector(t, metrics, testutil.NewMockEventsSource())

	inc := &incident.Incident{
		ID:       "lambda-errors-checkout",
		Rule:     incident.RuleLambdaErrors,
		Resource: "function:checkout",
	}

	paths, err := c.CollectForIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"lambda-error-metrics-checkout.json",
		"lambda-duration-metrics-checkout.json",
		"incident.json",
	}
	if len(paths) != len(want) {
		t.Errorf("got %d files, want %d: %v", len(paths), len(want), paths)
	}
	for _, name := range want {
		if _, ok := paths[name]; !ok {
			t.Errorf("missing %s", name)
		}
	}
}

func TestCollectForIncidentS3FiltersToResource(t *testing.T) {
	events := testutil.NewMockEventsSource()
	events.AccessDenied = []telemetry.AuditEvent{
		{Username: "alice", Resources: []string{"arn:aws:s3:::data-bucket"}},
		{Username: "bob", Resources: []string{"arn:aws:s3:::other-bucket"}},
	}
	c, _ := newTestCollector(t, testutil.NewMockMetricsSource(), events)

	inc := &incident.Incident{
		ID:       incident.NewID(incident.RuleS3AccessDenied, "arn:aws:s3:::data-bucket"),
		Rule:     incident.RuleS3AccessDenied,
		Resource: "arn:aws:s3:::data-bucket",
	}

	paths, err := c.CollectForIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var eventsFile string
	for name, path := range paths {
		if strings.HasPrefix(name, "cloudtrail-s3-access-denied-") {
			eventsFile = path
		}
	}
	if eventsFile == "" {
		t.Fatalf("no cloudtrail evidence file in %v", paths)
	}

	data, err := os.ReadFile(eventsFile)
	if err != nil {
		t.Fatalf("read events file: %v", err)
	}
	var got []telemetry.AuditEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode events file: %v", err)
	}
	if len(got) != 1 || got[0].Username != "alice" {
		t.Errorf("expected only the matching event, got %+v", got)
	}
}

type stubPolicyFetcher struct {
	policy string
}

func (s *stubPolicyFetcher) GetBucketPolicy(ctx context.Context, resource string) string {
	return s.policy
}

func TestCollectForIncidentS3WritesBucketPolicy(t *testing.T) {
	events := testutil.NewMockEventsSource()
	events.AccessDenied = []telemetry.AuditEvent{
		{Username: "alice", Resources: []string{"arn:aws:s3:::data-bucket"}},
	}
	settings := config.Settings{
		LookbackMinutes:    60,
		EvidenceOutputDir:  t.TempDir(),
		MaxEvidenceAgeDays: 30,
	}
	policy := `{"Version":"2012-10-17","Statement":[]}`
	c := NewCollector(testutil.NewMockMetricsSource(), events, &stubPolicyFetcher{policy: policy}, settings, logger.Nop())

	inc := &incident.Incident{
		ID:       incident.NewID(incident.RuleS3AccessDenied, "arn:aws:s3:::data-bucket"),
		Rule:     incident.RuleS3AccessDenied,
		Resource: "arn:aws:s3:::data-bucket",
	}

	paths, err := c.CollectForIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path, ok := paths["s3-bucket-policy-data-bucket.json"]
	if !ok {
		t.Fatalf("no bucket policy file in %v", paths)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read policy file: %v", err)
	}
	if string(data) != policy {
		t.Errorf("policy file = %q, want %q", data, policy)
	}
}

func TestCollectForIncidentUnknownRuleSnapshotOnly(t *testing.T) {
	c, _ := newTestCollector(t, testutil.NewMockMetricsSource(), testutil.NewMockEventsSource())

	inc := &incident.Incident{
		ID:       "mystery-rule-something",
		Rule:     incident.Rule("mystery-rule"),
		Resource: "something",
	}

	paths, err := c.CollectForIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("got %d files, want only incident.json: %v", len(paths), paths)
	}
	if _, ok := paths["incident.json"]; !ok {
		t.Error("incident.json missing")
	}
}

func TestPackageEvidenceCreatesArchive(t *testing.T) {
	metrics := testutil.NewMockMetricsSource()
	metrics.EC2CPU["i-abc"] = []telemetry.MetricDatapoint{{Maximum: 99}}
	c, settings := newTestCollector(t, metrics, testutil.NewMockEventsSource())

	inc := &incident.Incident{
		ID:       "ec2-cpu-spike-i-abc",
		Rule:     incident.RuleEC2CPUSpike,
		Resource: "i-abc",
	}

	archivePath, err := c.PackageEvidence(context.Background(), inc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	base := filepath.Base(archivePath)
	if !strings.HasPrefix(base, inc.ID+"_") || !strings.HasSuffix(base, ".tar.gz") {
		t.Errorf("archive name = %q, want %s_<timestamp>.tar.gz", base, inc.ID)
	}
	if filepath.Dir(archivePath) != settings.EvidenceOutputDir {
		t.Errorf("archive not in evidence root: %s", archivePath)
	}

	// Archive must contain the snapshot under the incident id.
	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	tr := tar.NewReader(gz)

	found := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar: %v", err)
		}
		if hdr.Name == inc.ID+"/incident.json" {
			found = true
		}
	}
	if !found {
		t.Error("incident.json not found in archive")
	}
}

func TestPackageEvidenceWithoutSourcesUsesExistingDirectory(t *testing.T) {
	metrics := testutil.NewMockMetricsSource()
	metrics.EC2CPU["i-abc"] = []telemetry.MetricDatapoint{{Maximum: 99}}
	c, settings := newTestCollector(t, metrics, testutil.NewMockEventsSource())

	inc := &incident.Incident{
		ID:       "ec2-cpu-spike-i-abc",
		Rule:     incident.RuleEC2CPUSpike,
		Resource: "i-abc",
	}
	if _, err := c.CollectForIncident(context.Background(), inc); err != nil {
		t.Fatalf("collect: %v", err)
	}

	// A collector without sources must package the directory the earlier
	// collection produced instead of re-fetching.
	local := NewCollector(nil, nil, nil, settings, logger.Nop())
	archivePath, err := local.PackageEvidence(context.Background(), inc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(archivePath); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
}

func TestPackageEvidenceWithoutSourcesRequiresCollectedDirectory(t *testing.T) {
	settings := config.Settings{
		EvidenceOutputDir:  t.TempDir(),
		MaxEvidenceAgeDays: 30,
	}
	local := NewCollector(nil, nil, nil, settings, logger.Nop())

	inc := &incident.Incident{
		ID:       "ec2-cpu-spike-i-never-collected",
		Rule:     incident.RuleEC2CPUSpike,
		Resource: "i-never-collected",
	}
	if _, err := local.PackageEvidence(context.Background(), inc); err == nil {
		t.Fatal("expected an error when nothing was collected")
	}
}

func TestCleanupOldEvidence(t *testing.T) {
	c, settings := newTestCollector(t, testutil.NewMockMetricsSource(), testutil.NewMockEventsSource())

	staleDir := filepath.Join(settings.EvidenceOutputDir, "ec2-cpu-spike-i-old")
	freshDir := filepath.Join(settings.EvidenceOutputDir, "ec2-cpu-spike-i-new")
	staleArchive := filepath.Join(settings.EvidenceOutputDir, "lambda-errors-old_20250101_000000.tar.gz")

	for _, dir := range []string{staleDir, freshDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(staleArchive, []byte("gz"), 0o644); err != nil {
		t.Fatal(err)
	}

	old := time.Now().Add(-time.Duration(settings.MaxEvidenceAgeDays+1) * 24 * time.Hour)
	for _, path := range []string{staleDir, staleArchive} {
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatal(err)
		}
	}

	c.CleanupOldEvidence()

	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Error("stale directory should be removed")
	}
	if _, err := os.Stat(staleArchive); !os.IsNotExist(err) {
		t.Error("stale archive should be removed")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Errorf("fresh directory should be preserved: %v", err)
	}
}
