package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/detector"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
	apperrors "github.com/cloudpilot-labs/cloudpilot/internal/pkg/errors"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
	"github.com/cloudpilot-labs/cloudpilot/internal/testutil"
)

func scanSettings() config.Settings {
	return config.Settings{
		Region:                    "us-east-1",
		CPUThreshold:              95.0,
		CPUDurationMinutes:        10,
		LambdaErrorThreshold:      5,
		LambdaTimeoutThresholdMs:  25000,
		BedrockTokenThreshold:     100000,
		BedrockTokenWindowMinutes: 60,
		LookbackMinutes:           60,
		EnableAlerting:            true,
		AlertMinSeverity:          incident.SeverityHigh,
	}
}

func spikingMetrics() *testutil.MockMetricsSource {
	metrics := testutil.NewMockMetricsSource()
	metrics.Instances = []string{"i-hot"}
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	metrics.EC2CPU["i-hot"] = []telemetry.MetricDatapoint{
		{Timestamp: base, Maximum: 99, Average: 90},
		{Timestamp: base.Add(5 * time.Minute), Maximum: 99, Average: 91},
	}
	return metrics
}

type failingCollector struct{}

func (failingCollector) CollectForIncident(ctx context.Context, inc *incident.Incident) (map[string]string, error) {
	return nil, errors.New("disk full")
}

func TestScanPersistsAndAlerts(t *testing.T) {
	metrics := spikingMetrics()
	events := testutil.NewMockEventsSource()
	settings := scanSettings()

	store := testutil.NewMockIncidentStore()
	notifier := &testutil.MockNotifier{}
	engine := detector.NewEngine(metrics, events, settings, logger.Nop())

	svc := NewScanService(engine, metrics, store, nil, notifier, settings, logger.Nop())

	result, err := svc.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ScanID == "" {
		t.Error("scan id not assigned")
	}
	if len(result.Incidents) != 1 {
		t.Fatalf("got %d incidents, want 1", len(result.Incidents))
	}

	stored, err := store.List(context.Background(), incident.Filter{ScanID: result.ScanID})
	if err != nil {
		t.Fatalf("list stored: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("got %d stored incidents, want 1", len(stored))
	}

	// The HIGH severity incident qualifies for alerting.
	if len(notifier.Sent) != 1 || len(notifier.Sent[0]) != 1 {
		t.Errorf("expected one alert batch with one incident, got %+v", notifier.Sent)
	}
}

func TestScanCleanRunSerializesEmptyIncidentList(t *testing.T) {
	metrics := testutil.NewMockMetricsSource()
	events := testutil.NewMockEventsSource()
	settings := scanSettings()
	engine := detector.NewEngine(metrics, events, settings, logger.Nop())

	svc := NewScanService(engine, metrics, nil, nil, nil, settings, logger.Nop())

	result, err := svc.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Incidents == nil || len(result.Incidents) != 0 {
		t.Fatalf("want empty non-nil incident list, got %#v", result.Incidents)
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"incidents":[]`) {
		t.Errorf("response = %s, want incidents serialized as []", data)
	}
}

func TestScanAlertingRespectsMinSeverity(t *testing.T) {
	metrics := testutil.NewMockMetricsSource()
	metrics.Instances = []string{"i-warm"}
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	// Qualifies for an incident but peaks below 98, so severity is MEDIUM.
	metrics.EC2CPU["i-warm"] = []telemetry.MetricDatapoint{
		{Timestamp: base, Maximum: 96, Average: 90},
		{Timestamp: base.Add(5 * time.Minute), Maximum: 96, Average: 90},
	}
	settings := scanSettings()

	notifier := &testutil.MockNotifier{}
	engine := detector.NewEngine(metrics, testutil.NewMockEventsSource(), settings, logger.Nop())
	svc := NewScanService(engine, nil, nil, nil, notifier, settings, logger.Nop())

	result, err := svc.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Incidents) != 1 {
		t.Fatalf("got %d incidents, want 1", len(result.Incidents))
	}
	if len(notifier.Sent) != 0 {
		t.Errorf("MEDIUM incident must not alert at HIGH threshold, got %+v", notifier.Sent)
	}
}

func TestScanCredentialFailureIsDistinct(t *testing.T) {
	metrics := spikingMetrics()
	metrics.VerifyError = apperrors.ProviderAuth("aws credential check failed", errors.New("token expired"))
	settings := scanSettings()

	engine := detector.NewEngine(metrics, testutil.NewMockEventsSource(), settings, logger.Nop())
	svc := NewScanService(engine, metrics, nil, nil, nil, settings, logger.Nop())

	result, err := svc.Scan(context.Background())
	if result != nil {
		t.Errorf("expected no result on credential failure, got %+v", result)
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.ErrCodeProviderAuth {
		t.Fatalf("expected PROVIDER_AUTH_ERROR, got %v", err)
	}
}

func TestScanEvidenceFailureDoesNotFailScan(t *testing.T) {
	metrics := spikingMetrics()
	settings := scanSettings()

	engine := detector.NewEngine(metrics, testutil.NewMockEventsSource(), settings, logger.Nop())
	svc := NewScanService(engine, nil, nil, failingCollector{}, nil, settings, logger.Nop())

	result, err := svc.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Incidents) != 1 {
		t.Fatalf("got %d incidents, want 1", len(result.Incidents))
	}
	if result.EvidenceFailures != 1 {
		t.Errorf("evidence failures = %d, want 1", result.EvidenceFailures)
	}
}
