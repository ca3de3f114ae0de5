package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
	"github.com/cloudpilot-labs/cloudpilot/internal/services"
)

// Scanner runs one detection batch.
type Scanner interface {
	Scan(ctx context.Context) (*services.ScanResult, error)
}

// EvidenceJanitor prunes stale evidence.
type EvidenceJanitor interface {
	CleanupOldEvidence()
}

// Monitor runs scans on a fixed interval. Iterations never overlap: the next
// scan only starts after the previous one (including evidence and alerting)
// completes, and cancellation is observed between iterations. Evidence
// cleanup runs on a daily cron schedule alongside the loop.
type Monitor struct {
	scanner  Scanner
	janitor  EvidenceJanitor
	interval time.Duration
	logger   *logger.Logger
}

func NewMonitor(scanner Scanner, janitor EvidenceJanitor, interval time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		scanner:  scanner,
		janitor:  janitor,
		interval: interval,
		logger:   log,
	}
}

// Start blocks until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.With("interval", m.interval.String()).Info("starting monitor loop")

	var c *cron.Cron
	if m.janitor != nil {
		c = cron.New()
		if _, err := c.AddFunc("@daily", m.janitor.CleanupOldEvidence); err != nil {
			m.logger.WithError(err).Error("failed to schedule evidence cleanup")
		} else {
			c.Start()
			defer c.Stop()
		}
		// Sweep once at startup so a long-idle host catches up immediately.
		m.janitor.CleanupOldEvidence()
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runScan(ctx)

	for {
		select {
		case <-ticker.C:
			m.runScan(ctx)
		case <-ctx.Done():
			m.logger.Info("monitor loop stopped")
			return
		}
	}
}

func (m *Monitor) runScan(ctx context.Context) {
	result, err := m.scanner.Scan(ctx)
	if err != nil {
		m.logger.WithError(err).Error("scan failed")
		return
	}
	if len(result.Incidents) > 0 {
		m.logger.WithFields(map[string]interface{}{
			"scan_id":   result.ScanID,
			"incidents": len(result.Incidents),
		}).Warn("incidents detected")
	}
}
