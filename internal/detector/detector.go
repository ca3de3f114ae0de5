// Package detector implements the fixed threshold rules that turn raw
// CloudWatch and CloudTrail telemetry into incidents.
package detector

import (
	"context"
	"fmt"

	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	"github.com/cloudpilot-labs/cloudpilot/internal/domain/telemetry"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
)

// Detector is one threshold rule. Detect is deterministic given identical
// telemetry and returns zero or more incidents.
type Detector interface {
	Name() string
	Detect(ctx context.Context) ([]incident.Incident, error)
}

// DetectorFailure records one detector that failed during a batch.
type DetectorFailure struct {
	Detector string `json:"detector"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// Report is the outcome of one detection batch. Per-detector failures are
// captured here rather than aborting the batch; a failing detector
// contributes zero incidents and one failure entry.
type Report struct {
	Incidents []incident.Incident `json:"incidents"`
	Failures  []DetectorFailure   `json:"failures,omitempty"`
}

// Engine runs a fixed roster of detectors sequentially. The rule set is
// closed and small, so the roster is a static list rather than a registry.
type Engine struct {
	detectors []Detector
	logger    *logger.Logger
}

// NewEngine builds the engine with the full detector roster.
func NewEngine(metrics telemetry.MetricsSource, events telemetry.EventsSource, settings config.Settings, log *logger.Logger) *Engine {
	return NewEngineWithDetectors(log,
		NewEC2CPUSpikeDetector(metrics, settings),
		NewLambdaErrorDetector(metrics, settings),
		NewBedrockTokenUsageDetector(metrics, settings),
		NewS3AccessDeniedDetector(events, settings),
		NewDynamoDBThrottleDetector(metrics, settings),
	)
}

// NewEngineWithDetectors builds an engine over an explicit roster. Tests use
// this to inject failing detectors.
func NewEngineWithDetectors(log *logger.Logger, detectors ...Detector) *Engine {
	return &Engine{detectors: detectors, logger: log}
}

// Run executes every detector and returns the union of their incidents. One
// detector failing (error or panic) never suppresses the others.
func (e *Engine) Run(ctx context.Context) Report {
	var report Report
	for _, d := range e.detectors {
		incidents, err := e.runOne(ctx, d)
		if err != nil {
			e.logger.With("detector", d.Name()).WithError(err).Error("detector failed")
			report.Failures = append(report.Failures, DetectorFailure{
				Detector: d.Name(),
				Err:      err,
				Message:  err.Error(),
			})
			continue
		}
		report.Incidents = append(report.Incidents, incidents...)
	}
	return report
}

func (e *Engine) runOne(ctx context.Context, d Detector) (incidents []incident.Incident, err error) {
	defer func() {
		if r := recover(); r != nil {
			incidents = nil
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()
	return d.Detect(ctx)
}
