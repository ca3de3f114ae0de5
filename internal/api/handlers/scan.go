package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	apperrors "github.com/cloudpilot-labs/cloudpilot/internal/pkg/errors"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/metrics"
	"github.com/cloudpilot-labs/cloudpilot/internal/services"
)

// Scanner runs one detection batch.
type Scanner interface {
	Scan(ctx context.Context) (*services.ScanResult, error)
}

// ScanHandler exposes scans over HTTP. The rate limiter keeps polling
// clients inside the CloudWatch/CloudTrail free tier.
type ScanHandler struct {
	scanner Scanner
	store   incident.Store
	limiter *rate.Limiter
	logger  *logger.Logger
}

func NewScanHandler(scanner Scanner, store incident.Store, scansPerHour int, log *logger.Logger) *ScanHandler {
	limit := rate.Limit(float64(scansPerHour) / 3600.0)
	return &ScanHandler{
		scanner: scanner,
		store:   store,
		limiter: rate.NewLimiter(limit, 5),
		logger:  log,
	}
}

// Scan handles POST /api/v1/scan.
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		h.writeError(w, apperrors.RateLimited("scan rate limit exceeded, try again later"))
		return
	}

	result, err := h.scanner.Scan(r.Context())
	if err != nil {
		metrics.RecordScan("error", 0)
		h.writeError(w, err)
		return
	}

	metrics.RecordScan("ok", result.Duration.Seconds())
	for _, inc := range result.Incidents {
		metrics.RecordIncident(string(inc.Rule), inc.Severity)
	}
	for _, f := range result.DetectorFailures {
		metrics.RecordDetectorFailure(f.Detector)
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ListIncidents handles GET /api/v1/incidents with optional severity, rule
// and scan_id query filters.
func (h *ScanHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, apperrors.New(apperrors.ErrCodeInternal, "incident store not configured", http.StatusServiceUnavailable))
		return
	}

	q := r.URL.Query()
	filter := incident.Filter{
		ScanID:   q.Get("scan_id"),
		Rule:     incident.Rule(q.Get("rule")),
		Severity: q.Get("severity"),
	}

	incidents, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if incidents == nil {
		incidents = []*incident.Incident{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents})
}

// Health handles GET /healthz.
func (h *ScanHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ScanHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("failed to encode response")
	}
}

func (h *ScanHandler) writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal("unexpected error", err)
	}
	if appErr.StatusCode >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	h.writeJSON(w, appErr.StatusCode, map[string]interface{}{"error": appErr})
}
