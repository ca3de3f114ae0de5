package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudpilot-labs/cloudpilot/internal/api/handlers"
	"github.com/cloudpilot-labs/cloudpilot/internal/api/router"
	"github.com/cloudpilot-labs/cloudpilot/internal/config"
	"github.com/cloudpilot-labs/cloudpilot/internal/detector"
	"github.com/cloudpilot-labs/cloudpilot/internal/evidence"
	"github.com/cloudpilot-labs/cloudpilot/internal/pkg/logger"
	"github.com/cloudpilot-labs/cloudpilot/internal/providers"
	"github.com/cloudpilot-labs/cloudpilot/internal/repository/sqlite"
	"github.com/cloudpilot-labs/cloudpilot/internal/services"
	"github.com/cloudpilot-labs/cloudpilot/internal/worker"
)

func main() {
	cfgFile := flag.String("config", "", "config file (YAML)")
	flag.Parse()

	if err := run(*cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := providers.NewAWSConfig(ctx, cfg.Settings, providers.Credentials{})
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	metricsSource := providers.NewCloudWatchSource(awsCfg, log)
	eventsSource := providers.NewCloudTrailSource(awsCfg, log)
	policySource := providers.NewS3PolicySource(awsCfg, log)

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	store := sqlite.NewIncidentStore(db)

	collector := evidence.NewCollector(metricsSource, eventsSource, policySource, cfg.Settings, log)

	var notifier services.Notifier
	if cfg.Settings.EnableAlerting {
		notifier = services.NewAlertService(awsCfg, cfg.Settings.SNSTopicARN, log)
	}

	engine := detector.NewEngine(metricsSource, eventsSource, cfg.Settings, log)
	scanner := services.NewScanService(engine, metricsSource, store, collector, notifier, cfg.Settings, log)

	scanHandler := handlers.NewScanHandler(scanner, store, cfg.Server.ScanRatePerHour, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.New(log, scanHandler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background poll loop alongside the HTTP surface.
	monitor := worker.NewMonitor(scanner, collector, cfg.Settings.PollInterval(), log)
	go monitor.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.With("addr", srv.Addr).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
