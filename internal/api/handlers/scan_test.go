package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	apperrors "github.com/cloudpilot-labs/cloudpilot/internal/pkg/errors"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
	"github.com/cloudpilot-labs/cloudpilot/internal/services"
	"github.com/cloudpilot-labs/cloudpilot/internal/testutil"
)

type stubScanner struct {
	result *services.ScanResult
	err    error
	calls  int
}

func (s *stubScanner) Scan(ctx context.Context) (*services.ScanResult, error) {
	s.calls++
	return s.result, s.err
}

func TestScanReturnsIncidents(t *testing.T) {
	inc := incident.Incident{
		ID:       "ec2-cpu-spike-i-abc",
		Rule:     incident.RuleEC2CPUSpike,
		Severity: incident.SeverityHigh,
		Resource: "i-abc",
	}
	scanner := &stubScanner{result: &services.ScanResult{
		ScanID:    "scan-1",
		StartedAt: time.Now(),
		Incidents: []incident.Incident{inc},
	}}
	h := NewScanHandler(scanner, testutil.NewMockIncidentStore(), 100, logger.Nop())

	rec := httptest.NewRecorder()
	h.Scan(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scan", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got services.ScanResult
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Incidents) != 1 || got.Incidents[0].ID != inc.ID {
		t.Fatalf("unexpected incidents: %+v", got.Incidents)
	}
	if scanner.calls != 1 {
		t.Fatalf("scanner called %d times, want 1", scanner.calls)
	}
}

func TestScanCredentialFailureReturns401(t *testing.T) {
	scanner := &stubScanner{err: apperrors.ProviderAuth("credential check failed", nil)}
	h := NewScanHandler(scanner, testutil.NewMockIncidentStore(), 100, logger.Nop())

	rec := httptest.NewRecorder()
	h.Scan(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scan", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Code != apperrors.ErrCodeProviderAuth {
		t.Fatalf("error code = %q, want %q", body.Error.Code, apperrors.ErrCodeProviderAuth)
	}
}

func TestScanRateLimited(t *testing.T) {
	scanner := &stubScanner{result: &services.ScanResult{ScanID: "scan-1"}}
	// 1 scan/hour with the default burst of 5: the sixth request in quick
	// succession must be rejected.
	h := NewScanHandler(scanner, nil, 1, logger.Nop())

	var last int
	for i := 0; i < 6; i++ {
		rec := httptest.NewRecorder()
		h.Scan(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scan", nil))
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("sixth request status = %d, want 429", last)
	}
	if scanner.calls != 5 {
		t.Fatalf("scanner called %d times, want 5", scanner.calls)
	}
}

func TestListIncidentsFiltersBySeverity(t *testing.T) {
	store := testutil.NewMockIncidentStore()
	ctx := context.Background()
	_ = store.Save(ctx, "scan-1", &incident.Incident{ID: "a", Rule: incident.RuleEC2CPUSpike, Severity: incident.SeverityHigh})
	_ = store.Save(ctx, "scan-1", &incident.Incident{ID: "b", Rule: incident.RuleLambdaErrors, Severity: incident.SeverityMedium})

	h := NewScanHandler(&stubScanner{}, store, 100, logger.Nop())

	rec := httptest.NewRecorder()
	h.ListIncidents(rec, httptest.NewRequest(http.MethodGet, "/api/v1/incidents?severity=HIGH", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Incidents []*incident.Incident `json:"incidents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Incidents) != 1 || body.Incidents[0].ID != "a" {
		t.Fatalf("unexpected incidents: %+v", body.Incidents)
	}
}

func TestListIncidentsEmptyStoreReturnsEmptyList(t *testing.T) {
	h := NewScanHandler(&stubScanner{}, testutil.NewMockIncidentStore(), 100, logger.Nop())

	rec := httptest.NewRecorder()
	h.ListIncidents(rec, httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Incidents []*incident.Incident `json:"incidents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Incidents == nil || len(body.Incidents) != 0 {
		t.Fatalf("want empty non-nil list, got %+v", body.Incidents)
	}
}
