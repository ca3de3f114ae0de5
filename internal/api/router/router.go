package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cloudpilot-labs/cloudpilot/internal/api/handlers"
	"github.com/cloudpilot-labs/cloudpilot/internal/api/middleware"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/metrics"
)

// New assembles the HTTP routing table.
func New(log *logger.Logger, scan *handlers.ScanHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.DefaultCORS())

	r.Get("/healthz", scan.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scan", scan.Scan)
		r.Get("/incidents", scan.ListIncidents)
	})

	return r
}
