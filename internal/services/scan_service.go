package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/detector"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
)

// EvidenceCollector is the part of the evidence package the scan loop needs.
type EvidenceCollector interface {
	CollectForIncident(ctx context.Context, inc *incident.Incident) (map[string]string, error)
}

// Notifier delivers incidents to an alerting channel.
type Notifier interface {
	Notify(ctx context.Context, incidents []incident.Incident) error
}

// ScanResult is the outcome of one full scan batch.
type ScanResult struct {
	ScanID           string                     `json:"scan_id"`
	StartedAt        time.Time                  `json:"started_at"`
	Duration         time.Duration              `json:"duration"`
	Incidents        []incident.Incident        `json:"incidents"`
	DetectorFailures []detector.DetectorFailure `json:"detector_failures,omitempty"`
	EvidenceFailures int                        `json:"evidence_failures"`
}

// ScanService runs the full pipeline: detect, persist, collect evidence,
// alert. Store, collector, and notifier are each optional; a nil dependency
// skips that stage.
type ScanService struct {
	engine    *detector.Engine
	checker   telemetry.CredentialChecker
	store     incident.Store
	collector EvidenceCollector
	notifier  Notifier
	settings  config.Settings
	logger    *logger.Logger
}

func NewScanService(
	engine *detector.Engine,
	checker telemetry.CredentialChecker,
	store incident.Store,
	collector EvidenceCollector,
	notifier Notifier,
	settings config.Settings,
	log *logger.Logger,
) *ScanService {
	return &ScanService{
		engine:    engine,
		checker:   checker,
		store:     store,
		collector: collector,
		notifier:  notifier,
		settings:  settings,
		logger:    log,
	}
}

// Scan runs one detection batch. A credential failure is returned as an
// error so callers can tell it apart from a clean scan with zero incidents;
// everything past that point degrades per stage instead of failing the scan.
func (s *ScanService) Scan(ctx context.Context) (*ScanResult, error) {
	if s.checker != nil {
		if err := s.checker.VerifyAccess(ctx); err != nil {
			return nil, err
		}
	}

	result := &ScanResult{
		ScanID:    uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := s.logger.With("scan_id", result.ScanID)
	log.Info("starting scan")

	report := s.engine.Run(ctx)
	result.Incidents = report.Incidents
	if result.Incidents == nil {
		// Clean scans serialize as an empty list, never null.
		result.Incidents = []incident.Incident{}
	}
	result.DetectorFailures = report.Failures

	for i := range result.Incidents {
		inc := &result.Incidents[i]

		if s.store != nil {
			if err := s.store.Save(ctx, result.ScanID, inc); err != nil {
				log.With("incident", inc.ID).WithError(err).Error("failed to persist incident")
			}
		}

		if s.collector != nil {
			// One incident's evidence failing must not block the rest.
			if _, err := s.collector.CollectForIncident(ctx, inc); err != nil {
				result.EvidenceFailures++
				log.With("incident", inc.ID).WithError(err).Error("failed to collect evidence")
			}
		}
	}

	if s.notifier != nil && s.settings.EnableAlerting {
		if alertable := filterBySeverity(result.Incidents, s.settings.AlertMinSeverity); len(alertable) > 0 {
			if err := s.notifier.Notify(ctx, alertable); err != nil {
				log.WithError(err).Error("failed to send alerts")
			}
		}
	}

	result.Duration = time.Since(result.StartedAt)
	log.WithFields(map[string]interface{}{
		"incidents":         len(result.Incidents),
		"detector_failures": len(result.DetectorFailures),
		"evidence_failures": result.EvidenceFailures,
	}).Info("scan complete")
	return result, nil
}

func filterBySeverity(incidents []incident.Incident, minSeverity string) []incident.Incident {
	var out []incident.Incident
	for _, inc := range incidents {
		if incident.SeverityAtLeast(inc.Severity, minSeverity) {
			out = append(out, inc)
		}
	}
	return out
}
